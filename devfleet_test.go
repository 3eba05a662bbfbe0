package devfleet_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devfleet/devfleet"
	"github.com/devfleet/devfleet/internal/config"
	"github.com/devfleet/devfleet/internal/store"
	"github.com/devfleet/devfleet/internal/supervisor"
	"github.com/devfleet/devfleet/pkg/domain"
)

func newFleet(t *testing.T) *devfleet.Fleet {
	t.Helper()
	st := store.NewFileStore(t.TempDir())
	fleet, err := devfleet.New(nil,
		devfleet.WithStore(st),
		devfleet.WithSupervisor(supervisor.NewFake()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fleet.Close() })
	return fleet
}

func TestFleet_RegisterStartStatus(t *testing.T) {
	fleet := newFleet(t)
	ctx := context.Background()

	// The facade uses the real bind probe, so assert on allocation shape
	// rather than exact port numbers.
	p, err := fleet.Register(ctx, devfleet.RegisterInput{
		Name:            "my-blog",
		Path:            t.TempDir(),
		FrontendCommand: "npm run dev",
		BackendCommand:  "uvicorn main:app",
	})
	require.NoError(t, err)
	assert.NotZero(t, p.Frontend.Port)
	assert.NotZero(t, p.Backend.Port)

	res, err := fleet.Start(ctx, "my-blog", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	status, err := fleet.Status(ctx, "my-blog")
	require.NoError(t, err)
	assert.Equal(t, domain.OverallRunning, status.Overall)

	res, err = fleet.Stop(ctx, "my-blog", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Len(t, fleet.Projects(nil), 1)
}

func TestFleet_DefaultsWhenConfigNil(t *testing.T) {
	fleet := newFleet(t)
	assert.Equal(t, config.StoreFile, fleet.Config().Store)
	assert.NotNil(t, fleet.Registry())
	assert.NotNil(t, fleet.Controller())
	assert.NotNil(t, fleet.Supervisor())
}

func TestFleet_RedisStoreSelection(t *testing.T) {
	// Assembly only; no connection is made until the store is used.
	cfg := config.Default()
	cfg.Store = config.StoreRedis
	cfg.Redis.Addr = "localhost:0"

	fleet, err := devfleet.New(cfg, devfleet.WithSupervisor(supervisor.NewFake()))
	require.NoError(t, err)
	_, ok := fleet.Store().(*store.RedisStore)
	assert.True(t, ok)
	assert.NoError(t, fleet.Close())
}
