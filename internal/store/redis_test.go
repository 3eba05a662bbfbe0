package store_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/devfleet/devfleet/internal/store"
	"github.com/devfleet/devfleet/pkg/domain"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ store.SnapshotStore = (*store.RedisStore)(nil)

func newTestRedis(t *testing.T) *store.RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	return store.NewRedisStoreFromClient(client)
}

func TestRedisStore_Contract(t *testing.T) {
	store.RunSnapshotStoreContract(t, newTestRedis(t))
}

func TestRedisStore_PrefixIsolation(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})

	ctx := context.Background()
	a := store.NewRedisStoreFromClient(client, store.WithRedisPrefix("a:"))
	b := store.NewRedisStoreFromClient(client, store.WithRedisPrefix("b:"))

	snap := domain.NewSnapshot()
	snap.AddProject(&domain.Project{Name: "only-a", Path: "/tmp/a",
		Backend: &domain.ServiceConfig{Enabled: true, Command: "true"}})
	require.NoError(t, a.Save(ctx, snap))

	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := a.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, got.Projects, "only-a")
}
