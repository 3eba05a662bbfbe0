// Package supervisor abstracts the external process supervisor that keeps
// dev services alive. The control plane never spawns long-running service
// processes itself: it delegates to a supervisor daemon (PM2 by default)
// and treats the supervisor's view of the world as the truth about what is
// running.
package supervisor

import (
	"context"
	"time"

	"github.com/devfleet/devfleet/pkg/domain"
)

// UnitSpec describes one service process to hand to the supervisor.
type UnitSpec struct {
	// Name is the supervisor unit name, e.g. "my-blog-fe".
	Name string
	// Command is the full shell command line to run.
	Command string
	// Cwd is the working directory for the process.
	Cwd string
	// Env is merged over the daemon's environment.
	Env map[string]string
}

// UnitStatus is the supervisor's view of one unit.
type UnitStatus struct {
	Name        string              `json:"name"`
	State       domain.ServiceState `json:"state"`
	PID         int                 `json:"pid,omitempty"`
	Uptime      time.Duration       `json:"uptime,omitempty"`
	Restarts    int                 `json:"restarts"`
	CPUPercent  float64             `json:"cpu_percent"`
	MemoryBytes uint64              `json:"memory_bytes"`
}

// Supervisor is the adapter contract for an external process supervisor.
// Status returns a zero-value UnitStatus with State "not_started" for units
// the supervisor has never seen; that is not an error.
type Supervisor interface {
	// Start hands the unit to the supervisor. Starting a unit that is
	// already online is an error; callers check Status first.
	Start(ctx context.Context, spec UnitSpec) error
	// Stop stops the unit but keeps it in the supervisor's list so it can
	// be resumed.
	Stop(ctx context.Context, name string) error
	// Restart stops and starts the unit in one supervisor call.
	Restart(ctx context.Context, name string) error
	// Delete stops the unit and removes it from the supervisor entirely.
	Delete(ctx context.Context, name string) error
	// Status reports one unit.
	Status(ctx context.Context, name string) (UnitStatus, error)
	// List reports every unit the supervisor manages, including ones not
	// owned by this control plane.
	List(ctx context.Context) ([]UnitStatus, error)
	// Logs returns the last n lines of the unit's combined output; a
	// non-positive n returns the full history.
	Logs(ctx context.Context, name string, lines int) ([]string, error)
	// LogFiles returns the stdout and stderr file paths for the unit, for
	// callers that want to follow output as it is written.
	LogFiles(name string) (stdout, stderr string)
}
