// Package registry implements authoritative CRUD on projects and the port
// allocation table, with crash-safe persistence. The registry exclusively
// owns the in-memory snapshot; the port manager and process controller
// operate through its View/Update methods so there is a single source of
// truth.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devfleet/devfleet/internal/logging"
	"github.com/devfleet/devfleet/internal/metrics"
	"github.com/devfleet/devfleet/internal/netports"
	"github.com/devfleet/devfleet/internal/store"
	"github.com/devfleet/devfleet/pkg/domain"
)

// Stopper is the slice of the process controller the registry needs for
// removeProject(stopIfRunning). Wired after construction to avoid a
// dependency cycle.
type Stopper interface {
	StopProject(ctx context.Context, name string, services []string) (*domain.OperationResult, error)
	// DeleteProject removes the project's units from the supervisor's
	// process list so removal leaves no orphan entries behind.
	DeleteProject(ctx context.Context, name string) error
}

// Registry manages project definitions over a snapshot store.
type Registry struct {
	store  store.SnapshotStore
	logger *slog.Logger

	// mu guards snap. Mutations replace snap wholesale (copy-on-write),
	// so a reader always observes a fully-formed snapshot.
	mu   sync.RWMutex
	snap *domain.Snapshot

	ports   *netports.Manager
	stopper Stopper
}

// Option configures the Registry.
type Option func(*Registry)

// WithLogger configures a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithPortOptions forwards options to the embedded port manager.
func WithPortOptions(opts ...netports.Option) Option {
	return func(r *Registry) {
		r.ports = netports.NewManager(r, opts...)
	}
}

// New opens the registry. A missing store starts fresh; a store that exists
// but cannot be parsed (or has an unsupported version) is a fatal
// CONFIG_ERROR; the registry never silently starts empty over it.
func New(st store.SnapshotStore, opts ...Option) (*Registry, error) {
	r := &Registry{
		store:  st,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ports == nil {
		r.ports = netports.NewManager(r)
	}

	snap, err := st.Load(context.Background())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			snap = domain.NewSnapshot()
		} else {
			return nil, err
		}
	}
	r.snap = snap
	return r, nil
}

// Ports returns the port manager bound to this registry.
func (r *Registry) Ports() *netports.Manager {
	return r.ports
}

// SetStopper wires the process controller used by Remove(stopIfRunning).
func (r *Registry) SetStopper(s Stopper) {
	r.stopper = s
}

// View runs fn with a consistent read of the snapshot. The snapshot must
// be treated as read-only inside fn.
func (r *Registry) View(fn func(snap *domain.Snapshot)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.snap)
}

// Update clones the snapshot, applies fn, persists the clone (the store
// backs up the previous document first), and swaps it in. The whole
// load-mutate-backup-write sequence holds the write lock, so mutations are
// fully serialized and a failed save leaves memory and disk untouched.
func (r *Registry) Update(modifiedBy string, fn func(snap *domain.Snapshot) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone, err := cloneSnapshot(r.snap)
	if err != nil {
		return fmt.Errorf("failed to clone snapshot: %w", err)
	}
	if err := fn(clone); err != nil {
		return err
	}

	clone.Metadata.LastModified = time.Now().UTC()
	clone.Metadata.LastModifiedBy = modifiedBy
	clone.Metadata.TotalProjects = len(clone.Projects)

	if err := r.store.Save(context.Background(), clone); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	r.snap = clone
	r.observePortGauges(clone)
	return nil
}

func (r *Registry) observePortGauges(snap *domain.Snapshot) {
	fe, be := 0, 0
	for key := range snap.PortAllocation.Allocated {
		port, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		switch {
		case snap.PortAllocation.FrontendRange.Contains(port):
			fe++
		case snap.PortAllocation.BackendRange.Contains(port):
			be++
		}
	}
	metrics.PortsAllocated.WithLabelValues("frontend").Set(float64(fe))
	metrics.PortsAllocated.WithLabelValues("backend").Set(float64(be))
}

func cloneSnapshot(snap *domain.Snapshot) (*domain.Snapshot, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	var clone domain.Snapshot
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	if clone.Projects == nil {
		clone.Projects = make(map[string]*domain.Project)
	}
	if clone.PortAllocation.Allocated == nil {
		clone.PortAllocation.Allocated = make(map[string]string)
	}
	return &clone, nil
}

// List returns registered projects in insertion order, optionally filtered
// by tag intersection. An empty filter returns all projects.
func (r *Registry) List(filterTags []string) []*domain.Project {
	var out []*domain.Project
	r.View(func(snap *domain.Snapshot) {
		for _, p := range snap.ProjectList() {
			if p.HasTag(filterTags) {
				out = append(out, p)
			}
		}
	})
	return out
}

// Get returns a project by name.
func (r *Registry) Get(name string) (*domain.Project, error) {
	var p *domain.Project
	r.View(func(snap *domain.Snapshot) {
		p = snap.Projects[name]
	})
	if p == nil {
		return nil, domain.Errf(domain.CodeProjectNotFound, "project %q not found", name).
			WithHints("list registered projects with 'devfleet list'")
	}
	return p, nil
}

// Search matches projects by name, display name, tags, or description.
func (r *Registry) Search(query string) []*domain.Project {
	query = strings.ToLower(query)
	var out []*domain.Project
	r.View(func(snap *domain.Snapshot) {
		for _, p := range snap.ProjectList() {
			if matchesQuery(p, query) {
				out = append(out, p)
			}
		}
	})
	return out
}

func matchesQuery(p *domain.Project, query string) bool {
	if strings.Contains(strings.ToLower(p.Name), query) ||
		strings.Contains(strings.ToLower(p.DisplayName), query) ||
		strings.Contains(strings.ToLower(p.Description), query) {
		return true
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

// Settings returns the current process-wide settings.
func (r *Registry) Settings() domain.Settings {
	var s domain.Settings
	r.View(func(snap *domain.Snapshot) {
		s = snap.Settings
	})
	return s
}

// Backups lists retained store backups, newest first.
func (r *Registry) Backups(ctx context.Context) ([]store.BackupInfo, error) {
	return r.store.Backups(ctx)
}

// RestoreBackup replaces the live snapshot with the named backup. This is
// the operator opt-in path for recovering from a corrupted store.
func (r *Registry) RestoreBackup(ctx context.Context, name string) error {
	restored, err := r.store.Restore(ctx, name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	restored.Metadata.LastModified = time.Now().UTC()
	restored.Metadata.LastModifiedBy = "restore_backup"
	if err := r.store.Save(ctx, restored); err != nil {
		return fmt.Errorf("failed to persist restored snapshot: %w", err)
	}
	r.snap = restored
	r.logger.Info("restored snapshot from backup", "backup", name)
	return nil
}

// validatePath checks that path exists and is a directory, returning the
// absolute form.
func validatePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", domain.Wrap(domain.CodeInvalidPath, err, "cannot resolve path %q", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", domain.Errf(domain.CodeInvalidPath, "path %q does not exist", path).
				WithHints("create the directory first, or check for a typo")
		}
		return "", domain.Wrap(domain.CodeInvalidPath, err, "cannot stat path %q", path)
	}
	if !info.IsDir() {
		return "", domain.Errf(domain.CodeInvalidPath, "path %q is not a directory", path)
	}
	return abs, nil
}
