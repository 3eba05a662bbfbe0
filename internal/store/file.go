package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/devfleet/devfleet/pkg/domain"
)

const (
	storeFileName   = "projects.json"
	backupDirName   = "backups"
	// Nanosecond precision keeps names unique under rapid successive saves.
	backupTimeLayout = "20060102_150405.000000000"
)

// FileStore implements SnapshotStore on the local filesystem.
// The snapshot lives at <BasePath>/projects.json and backups under
// <BasePath>/backups/projects_<UTC timestamp>.json.
type FileStore struct {
	BasePath  string
	Retention int
}

// NewFileStore creates a FileStore rooted at basePath.
// If basePath is empty, it defaults to ".devfleet".
func NewFileStore(basePath string) *FileStore {
	if basePath == "" {
		basePath = ".devfleet"
	}
	return &FileStore{BasePath: basePath, Retention: DefaultBackupRetention}
}

func (f *FileStore) path() string {
	return filepath.Join(f.BasePath, storeFileName)
}

func (f *FileStore) backupDir() string {
	return filepath.Join(f.BasePath, backupDirName)
}

// Load reads and validates the current snapshot.
func (f *FileStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	data, err := os.ReadFile(f.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, domain.Wrap(domain.CodeConfigError, err, "failed to read store file %s", f.path())
	}
	return decodeSnapshot(data, f.path())
}

// Save backs up the previous snapshot and atomically writes the new one.
// The write goes to a temp file in the same directory followed by a
// rename, so a crash mid-write never leaves a torn projects.json.
func (f *FileStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	if err := os.MkdirAll(f.BasePath, 0o755); err != nil {
		return fmt.Errorf("failed to ensure data directory: %w", err)
	}

	if err := f.backupCurrent(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := f.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// backupCurrent copies the existing snapshot into the backup directory and
// prunes the oldest entries beyond the retention count.
func (f *FileStore) backupCurrent() error {
	data, err := os.ReadFile(f.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing to back up yet
		}
		return fmt.Errorf("failed to read snapshot for backup: %w", err)
	}

	if err := os.MkdirAll(f.backupDir(), 0o755); err != nil {
		return fmt.Errorf("failed to ensure backup directory: %w", err)
	}

	name := fmt.Sprintf("projects_%s.json", time.Now().UTC().Format(backupTimeLayout))
	if err := os.WriteFile(filepath.Join(f.backupDir(), name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return f.prune()
}

func (f *FileStore) prune() error {
	names, err := f.backupNames()
	if err != nil {
		return err
	}
	retention := f.Retention
	if retention <= 0 {
		retention = DefaultBackupRetention
	}
	// backupNames sorts ascending; drop from the front.
	for len(names) > retention {
		if err := os.Remove(filepath.Join(f.backupDir(), names[0])); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to prune backup %s: %w", names[0], err)
		}
		names = names[1:]
	}
	return nil
}

func (f *FileStore) backupNames() ([]string, error) {
	entries, err := os.ReadDir(f.backupDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "projects_") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Backups lists retained backups, newest first.
func (f *FileStore) Backups(ctx context.Context) ([]BackupInfo, error) {
	names, err := f.backupNames()
	if err != nil {
		return nil, err
	}
	infos := make([]BackupInfo, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		info := BackupInfo{Name: name}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, "projects_"), ".json")
		if t, err := time.Parse(backupTimeLayout, stamp); err == nil {
			info.CreatedAt = t.UTC()
		}
		if st, err := os.Stat(filepath.Join(f.backupDir(), name)); err == nil {
			info.Size = st.Size()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Restore loads the named backup without touching the current snapshot.
func (f *FileStore) Restore(ctx context.Context, name string) (*domain.Snapshot, error) {
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid backup name %q", name)
	}
	path := filepath.Join(f.backupDir(), name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read backup %s: %w", name, err)
	}
	return decodeSnapshot(data, path)
}

// decodeSnapshot parses and version-gates a persisted snapshot.
// Any parse or version failure is a CodeConfigError: the registry must
// refuse to start from it rather than fall back to an empty store.
func decodeSnapshot(data []byte, source string) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, domain.Wrap(domain.CodeConfigError, err, "failed to parse %s", source).
			WithHints("restore a backup with 'devfleet restore', or fix the JSON by hand")
	}
	if err := domain.CheckVersion(snap.Version); err != nil {
		return nil, domain.Wrap(domain.CodeConfigError, err, "cannot load %s", source)
	}
	if snap.Projects == nil {
		snap.Projects = make(map[string]*domain.Project)
	}
	if snap.PortAllocation.Allocated == nil {
		snap.PortAllocation.Allocated = make(map[string]string)
	}
	return &snap, nil
}
