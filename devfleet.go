package devfleet

import (
	"context"
	"io"
	"log/slog"

	"github.com/devfleet/devfleet/internal/config"
	"github.com/devfleet/devfleet/internal/process"
	"github.com/devfleet/devfleet/internal/registry"
	"github.com/devfleet/devfleet/internal/store"
	"github.com/devfleet/devfleet/internal/supervisor"
	"github.com/devfleet/devfleet/pkg/domain"
)

// Fleet is the high-level entry point for the devfleet library. It assembles
// the snapshot store, registry, supervisor, and process controller from a
// Config and exposes them to embedding hosts (CLI, HTTP, MCP).
type Fleet struct {
	cfg    *config.Config
	store  store.SnapshotStore
	reg    *registry.Registry
	sup    supervisor.Supervisor
	ctrl   *process.Controller
	logger *slog.Logger
}

// Option defines a functional option for configuring the Fleet.
type Option func(*Fleet)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fleet) { f.logger = logger }
}

// WithStore injects a snapshot store, bypassing the config-driven choice.
func WithStore(st store.SnapshotStore) Option {
	return func(f *Fleet) { f.store = st }
}

// WithSupervisor injects a supervisor, bypassing pm2 discovery. Used by
// tests and by hosts that bring their own process manager.
func WithSupervisor(sup supervisor.Supervisor) Option {
	return func(f *Fleet) { f.sup = sup }
}

// New assembles a Fleet from the given config. A nil config uses defaults.
func New(cfg *config.Config, opts ...Option) (*Fleet, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	f := &Fleet{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}

	if f.logger == nil {
		f.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	if f.store == nil {
		switch cfg.Store {
		case config.StoreRedis:
			f.store = store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		default:
			f.store = store.NewFileStore(cfg.DataDir)
		}
	}

	reg, err := registry.New(f.store, registry.WithLogger(f.logger))
	if err != nil {
		return nil, err
	}
	f.reg = reg

	if f.sup == nil {
		pm2Opts := []supervisor.PM2Option{
			supervisor.WithPM2Binary(cfg.Supervisor.Binary),
			supervisor.WithPM2Logger(f.logger),
		}
		if cfg.Supervisor.Home != "" {
			pm2Opts = append(pm2Opts, supervisor.WithPM2Home(cfg.Supervisor.Home))
		}
		sup, err := supervisor.NewPM2(pm2Opts...)
		if err != nil {
			return nil, err
		}
		f.sup = sup
	}

	f.ctrl = process.New(f.reg, f.sup, process.WithLogger(f.logger))
	f.reg.SetStopper(f.ctrl)

	return f, nil
}

// RegisterInput is the request shape for registering a project.
type RegisterInput = registry.RegisterInput

// Register adds a project to the fleet, allocating ports as needed.
func (f *Fleet) Register(ctx context.Context, in RegisterInput) (*domain.Project, error) {
	return f.reg.Register(ctx, in)
}

// Start brings a project's services up. A nil services slice starts all.
func (f *Fleet) Start(ctx context.Context, name string, services []string) (*domain.OperationResult, error) {
	return f.ctrl.StartProject(ctx, name, services)
}

// Stop brings a project's services down.
func (f *Fleet) Stop(ctx context.Context, name string, services []string) (*domain.OperationResult, error) {
	return f.ctrl.StopProject(ctx, name, services)
}

// Status reports the live state of one project.
func (f *Fleet) Status(ctx context.Context, name string) (*domain.ProjectStatus, error) {
	return f.ctrl.Status(ctx, name)
}

// Config returns the configuration the fleet was assembled from.
func (f *Fleet) Config() *config.Config { return f.cfg }

// Registry returns the project registry.
func (f *Fleet) Registry() *registry.Registry { return f.reg }

// Controller returns the process controller.
func (f *Fleet) Controller() *process.Controller { return f.ctrl }

// Supervisor returns the underlying process supervisor.
func (f *Fleet) Supervisor() supervisor.Supervisor { return f.sup }

// Store returns the snapshot store.
func (f *Fleet) Store() store.SnapshotStore { return f.store }

// Projects returns all registered projects, optionally filtered by tags.
func (f *Fleet) Projects(tags []string) []*domain.Project {
	return f.reg.List(tags)
}

// Close releases backend resources (redis connections). File-backed fleets
// have nothing to release.
func (f *Fleet) Close() error {
	if c, ok := f.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
