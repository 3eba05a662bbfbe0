package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/devfleet/devfleet/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract verifies that a SnapshotStore implementation
// adheres to the interface contract. Both the file and redis stores run it.
func RunSnapshotStoreContract(t *testing.T, s SnapshotStore) {
	ctx := context.Background()

	t.Run("Load Before First Save", func(t *testing.T) {
		_, err := s.Load(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Save and Load Round Trip", func(t *testing.T) {
		snap := domain.NewSnapshot()
		snap.AddProject(&domain.Project{
			Name: "demo",
			Path: "/tmp/demo",
			Backend: &domain.ServiceConfig{
				Enabled: true,
				Port:    8001,
				Command: "python main.py",
			},
			Tags: []string{"local"},
		})
		snap.PortAllocation.Claim(8001, "demo")

		require.NoError(t, s.Save(ctx, snap))

		loaded, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.SnapshotVersion, loaded.Version)
		require.Contains(t, loaded.Projects, "demo")
		assert.Equal(t, 8001, loaded.Projects["demo"].Backend.Port)
		assert.Equal(t, "demo", loaded.PortAllocation.Holder(8001))
		assert.Equal(t, snap.Settings, loaded.Settings)
	})

	t.Run("Backup Created On Overwrite", func(t *testing.T) {
		snap, err := s.Load(ctx)
		require.NoError(t, err)
		snap.AddProject(&domain.Project{Name: "second", Path: "/tmp/second",
			Frontend: &domain.ServiceConfig{Enabled: true, Command: "npm run dev"}})
		require.NoError(t, s.Save(ctx, snap))

		backups, err := s.Backups(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, backups, "overwriting save should leave a backup")

		// The newest backup holds the pre-overwrite state: one project.
		restored, err := s.Restore(ctx, backups[0].Name)
		require.NoError(t, err)
		assert.Len(t, restored.Projects, 1)
		assert.Contains(t, restored.Projects, "demo")
	})

	t.Run("Restore Unknown Backup", func(t *testing.T) {
		_, err := s.Restore(ctx, "projects_19990101_000000.000000000.json")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Retention Bounded", func(t *testing.T) {
		for i := 0; i < DefaultBackupRetention+5; i++ {
			snap, err := s.Load(ctx)
			require.NoError(t, err)
			snap.Metadata.LastModifiedBy = fmt.Sprintf("writer-%d", i)
			require.NoError(t, s.Save(ctx, snap))
		}
		backups, err := s.Backups(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(backups), DefaultBackupRetention)
	})
}
