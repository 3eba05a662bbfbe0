package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/devfleet/devfleet/internal/metrics"
	"github.com/devfleet/devfleet/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// RegisterInput is the payload for registering a new project.
type RegisterInput struct {
	Name            string            `json:"name" mapstructure:"name"`
	Path            string            `json:"path" mapstructure:"path"`
	DisplayName     string            `json:"display_name,omitempty" mapstructure:"display_name"`
	Description     string            `json:"description,omitempty" mapstructure:"description"`
	FrontendCommand string            `json:"frontend_command,omitempty" mapstructure:"frontend_command"`
	BackendCommand  string            `json:"backend_command,omitempty" mapstructure:"backend_command"`
	FrontendCwd     string            `json:"frontend_cwd,omitempty" mapstructure:"frontend_cwd"`
	BackendCwd      string            `json:"backend_cwd,omitempty" mapstructure:"backend_cwd"`
	FrontendPort    int               `json:"frontend_port,omitempty" mapstructure:"frontend_port"`
	BackendPort     int               `json:"backend_port,omitempty" mapstructure:"backend_port"`
	EnvVars         map[string]string `json:"env_vars,omitempty" mapstructure:"env_vars"`
	Tags            []string          `json:"tags,omitempty" mapstructure:"tags"`
}

// Register validates the input, allocates ports for each service lacking an
// explicit one, and persists the project in one atomic update. On any
// failure (including port exhaustion) nothing is persisted.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (p *domain.Project, err error) {
	defer func() { metrics.ObserveOp("register_project", err) }()

	if err = domain.ValidateName(in.Name); err != nil {
		return nil, domain.Wrap(domain.CodeInvalidPath, err, "invalid project name")
	}
	if in.FrontendCommand == "" && in.BackendCommand == "" {
		return nil, domain.Errf(domain.CodeInvalidPath,
			"project %q needs at least one service: set frontend_command or backend_command", in.Name)
	}

	absPath, err := validatePath(in.Path)
	if err != nil {
		return nil, err
	}

	// Fail fast on duplicates before touching the port manager. The commit
	// hook re-checks under the write lock, so a racing register still
	// cannot slip through.
	if _, getErr := r.Get(in.Name); getErr == nil {
		return nil, existsErr(in.Name)
	}

	needFrontend := in.FrontendCommand != "" && in.FrontendPort == 0
	needBackend := in.BackendCommand != "" && in.BackendPort == 0

	for role, port := range map[domain.ServiceRole]int{
		domain.RoleFrontend: in.FrontendPort,
		domain.RoleBackend:  in.BackendPort,
	} {
		if port == 0 {
			continue
		}
		if ok, reason := r.ports.Validate(port, role); !ok {
			return nil, domain.Errf(domain.CodePortInUse, "cannot use explicit %s port %d: %s", role, port, reason)
		}
	}

	_, err = r.ports.Allocate(ctx, in.Name, needFrontend, needBackend,
		func(snap *domain.Snapshot, got map[domain.ServiceRole]int) error {
			if _, exists := snap.Projects[in.Name]; exists {
				return existsErr(in.Name)
			}

			now := time.Now().UTC()
			p = &domain.Project{
				Name:         in.Name,
				DisplayName:  in.DisplayName,
				Path:         absPath,
				Description:  in.Description,
				EnvVars:      in.EnvVars,
				Dependencies: nil,
				Tags:         mergeTags(snap.Settings.DefaultTags, in.Tags),
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if p.DisplayName == "" {
				p.DisplayName = domain.DeriveDisplayName(p.Name)
			}

			claimExplicit := func(port int) error {
				if holder := snap.PortAllocation.Holder(port); holder != "" {
					return domain.Errf(domain.CodePortInUse,
						"port %d was allocated to %q concurrently", port, holder)
				}
				snap.PortAllocation.Claim(port, in.Name)
				return nil
			}

			if in.FrontendCommand != "" {
				port := in.FrontendPort
				if port == 0 {
					port = got[domain.RoleFrontend]
				} else if err := claimExplicit(port); err != nil {
					return err
				}
				p.Frontend = &domain.ServiceConfig{
					Enabled: true,
					Port:    port,
					Command: in.FrontendCommand,
					Cwd:     in.FrontendCwd,
				}
			}
			if in.BackendCommand != "" {
				port := in.BackendPort
				if port == 0 {
					port = got[domain.RoleBackend]
				} else if err := claimExplicit(port); err != nil {
					return err
				}
				p.Backend = &domain.ServiceConfig{
					Enabled: true,
					Port:    port,
					Command: in.BackendCommand,
					Cwd:     in.BackendCwd,
				}
			}

			snap.AddProject(p)
			return nil
		})
	if err != nil {
		return nil, err
	}

	r.logger.Info("registered project", "project", p.Name, "path", p.Path)
	r.maybeWriteEnvFile(p)
	return p, nil
}

func existsErr(name string) error {
	return domain.Errf(domain.CodeProjectExists, "project %q already exists", name).
		WithHints("pick a different name", "or remove the existing project first")
}

func mergeTags(defaults, extra []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range [][]string{defaults, extra} {
		for _, tag := range set {
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}

// UpdateProject merges the given fields into an existing project and
// re-validates invariants. The name is immutable; ports change only through
// the explicit reallocate_ports flag (release everything, allocate fresh).
func (r *Registry) UpdateProject(ctx context.Context, name string, updates map[string]any) (p *domain.Project, err error) {
	defer func() { metrics.ObserveOp("update_project", err) }()

	if _, ok := updates["name"]; ok {
		return nil, domain.Errf(domain.CodeInvalidPath, "project name is immutable")
	}
	reallocate := false
	if v, ok := updates["reallocate_ports"]; ok {
		reallocate, _ = v.(bool)
		delete(updates, "reallocate_ports")
	}
	if err := rejectPortEdits(updates); err != nil {
		return nil, err
	}

	if v, ok := updates["path"].(string); ok {
		abs, err := validatePath(v)
		if err != nil {
			return nil, err
		}
		updates["path"] = abs
	}

	err = r.Update("update_project", func(snap *domain.Snapshot) error {
		existing, ok := snap.Projects[name]
		if !ok {
			return domain.Errf(domain.CodeProjectNotFound, "project %q not found", name)
		}
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:  existing,
			TagName: "mapstructure",
		})
		if err != nil {
			return fmt.Errorf("failed to build update decoder: %w", err)
		}
		if err := dec.Decode(updates); err != nil {
			return domain.Wrap(domain.CodeInvalidPath, err, "malformed update for project %q", name)
		}
		if existing.Frontend == nil && existing.Backend == nil {
			return domain.Errf(domain.CodeInvalidPath,
				"update would leave project %q with no services", name)
		}
		existing.UpdatedAt = time.Now().UTC()
		p = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	if reallocate {
		if p, err = r.reallocatePorts(ctx, name); err != nil {
			return nil, err
		}
	}

	r.maybeWriteEnvFile(p)
	return p, nil
}

// rejectPortEdits blocks direct port assignment through partial updates.
func rejectPortEdits(updates map[string]any) error {
	for _, key := range []string{"frontend", "backend"} {
		svc, ok := updates[key].(map[string]any)
		if !ok {
			continue
		}
		if _, has := svc["port"]; has {
			return domain.Errf(domain.CodeInvalidPath,
				"ports cannot be edited directly: set reallocate_ports=true to release and reallocate").
				WithHints("ports are managed by the port allocator to stay conflict-free")
		}
	}
	return nil
}

// reallocatePorts releases the project's ports and allocates fresh ones for
// each enabled service, as one explicit release + reallocate.
func (r *Registry) reallocatePorts(ctx context.Context, name string) (*domain.Project, error) {
	if _, err := r.ports.Release(name); err != nil {
		return nil, err
	}

	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	needFrontend := p.Frontend != nil && p.Frontend.Enabled
	needBackend := p.Backend != nil && p.Backend.Enabled

	var updated *domain.Project
	_, err = r.ports.Allocate(ctx, name, needFrontend, needBackend,
		func(snap *domain.Snapshot, got map[domain.ServiceRole]int) error {
			target, ok := snap.Projects[name]
			if !ok {
				return domain.Errf(domain.CodeProjectNotFound, "project %q not found", name)
			}
			if port, ok := got[domain.RoleFrontend]; ok {
				target.Frontend.Port = port
			}
			if port, ok := got[domain.RoleBackend]; ok {
				target.Backend.Port = port
			}
			target.UpdatedAt = time.Now().UTC()
			updated = target
			return nil
		})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveResult reports the outcome of removing a project.
type RemoveResult struct {
	Removed       bool   `json:"removed"`
	ReleasedPorts []int  `json:"released_ports,omitempty"`
	StopFailure   string `json:"stop_failure,omitempty"`
}

// Remove deletes a project, optionally stopping its processes first. When
// stopping, the supervisor units are also deleted so no orphan entries pile
// up in the process list. A stop or delete failure does not block removal
// and ports are released regardless, but the failure is surfaced in the
// result.
func (r *Registry) Remove(ctx context.Context, name string, stopIfRunning bool) (res *RemoveResult, err error) {
	defer func() { metrics.ObserveOp("remove_project", err) }()

	if _, err = r.Get(name); err != nil {
		return nil, err
	}

	res = &RemoveResult{}
	if stopIfRunning && r.stopper != nil {
		if stopResult, stopErr := r.stopper.StopProject(ctx, name, nil); stopErr != nil {
			res.StopFailure = stopErr.Error()
		} else if stopResult != nil && !stopResult.Success {
			res.StopFailure = stopResult.Message
		}
		if delErr := r.stopper.DeleteProject(ctx, name); delErr != nil {
			if res.StopFailure != "" {
				res.StopFailure += "; "
			}
			res.StopFailure += delErr.Error()
		}
	}

	freed, err := r.ports.Release(name)
	if err != nil {
		return nil, err
	}
	res.ReleasedPorts = freed

	err = r.Update("remove_project", func(snap *domain.Snapshot) error {
		if _, ok := snap.Projects[name]; !ok {
			return domain.Errf(domain.CodeProjectNotFound, "project %q not found", name)
		}
		snap.RemoveProject(name)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Removed = true
	r.logger.Info("removed project", "project", name, "released_ports", freed,
		"stop_failure", res.StopFailure)
	return res, nil
}

// UpdateSettings applies explicit settings changes.
func (r *Registry) UpdateSettings(ctx context.Context, updates map[string]any) (s domain.Settings, err error) {
	defer func() { metrics.ObserveOp("update_settings", err) }()

	err = r.Update("update_settings", func(snap *domain.Snapshot) error {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:  &snap.Settings,
			TagName: "mapstructure",
		})
		if err != nil {
			return fmt.Errorf("failed to build settings decoder: %w", err)
		}
		if err := dec.Decode(updates); err != nil {
			return domain.Wrap(domain.CodeConfigError, err, "malformed settings update")
		}
		s = snap.Settings
		return nil
	})
	return s, err
}
