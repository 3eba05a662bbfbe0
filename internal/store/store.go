package store

import (
	"context"
	"errors"
	"time"

	"github.com/devfleet/devfleet/pkg/domain"
)

// ErrNotFound is returned by Load when no snapshot has ever been saved.
// A missing store is not an error condition for callers: the registry
// starts from a fresh snapshot. A store that exists but cannot be parsed
// is a domain.CodeConfigError instead, and is fatal.
var ErrNotFound = errors.New("snapshot not found")

// DefaultBackupRetention is the number of timestamped backups kept per store.
const DefaultBackupRetention = 10

// BackupInfo describes one retained backup.
type BackupInfo struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size,omitempty"`
}

// SnapshotStore persists the registry snapshot.
//
// Save must be atomic: a concurrent Load observes either the previous or
// the new snapshot, never a torn write. Save also backs up the previous
// snapshot before replacing it, keeping a bounded number of backups.
type SnapshotStore interface {
	// Load retrieves the current snapshot.
	// Returns ErrNotFound if nothing has been saved yet.
	Load(ctx context.Context) (*domain.Snapshot, error)

	// Save backs up the previous snapshot (if any) and atomically
	// replaces it with snap.
	Save(ctx context.Context, snap *domain.Snapshot) error

	// Backups lists retained backups, newest first.
	Backups(ctx context.Context) ([]BackupInfo, error)

	// Restore loads the named backup. It does not overwrite the current
	// snapshot; restoring is an explicit operator decision and the caller
	// Saves the result if it wants to keep it.
	Restore(ctx context.Context, name string) (*domain.Snapshot, error)
}
