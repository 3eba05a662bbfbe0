package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/devfleet/devfleet/internal/logging"
	"github.com/devfleet/devfleet/internal/metrics"
	"github.com/devfleet/devfleet/pkg/domain"
)

// DefaultCallTimeout bounds every pm2 invocation. A wedged pm2 daemon must
// not hang the control plane.
const DefaultCallTimeout = 30 * time.Second

// runFunc executes the pm2 binary. Swapped out by tests.
type runFunc func(ctx context.Context, env []string, args ...string) ([]byte, error)

// PM2 drives the pm2 process manager through its CLI. Services run as
// "pm2 start bash -- -c <command>" units so arbitrary shell command lines
// work without an ecosystem file.
type PM2 struct {
	bin     string
	home    string
	timeout time.Duration
	run     runFunc
	logger  *slog.Logger
}

// PM2Option configures the adapter.
type PM2Option func(*PM2)

// WithPM2Binary overrides the pm2 binary path.
func WithPM2Binary(path string) PM2Option {
	return func(p *PM2) { p.bin = path }
}

// WithPM2Home overrides the PM2 home directory used to locate log files.
func WithPM2Home(dir string) PM2Option {
	return func(p *PM2) { p.home = dir }
}

// WithPM2Timeout overrides the per-call timeout.
func WithPM2Timeout(d time.Duration) PM2Option {
	return func(p *PM2) { p.timeout = d }
}

// WithPM2Runner replaces the exec layer (used by tests).
func WithPM2Runner(run runFunc) PM2Option {
	return func(p *PM2) { p.run = run }
}

// WithPM2Logger configures a logger.
func WithPM2Logger(logger *slog.Logger) PM2Option {
	return func(p *PM2) { p.logger = logger }
}

// NewPM2 builds the adapter and verifies the pm2 binary is reachable.
func NewPM2(opts ...PM2Option) (*PM2, error) {
	home, _ := os.UserHomeDir()
	p := &PM2{
		bin:     "pm2",
		home:    filepath.Join(home, ".pm2"),
		timeout: DefaultCallTimeout,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.run == nil {
		if _, err := exec.LookPath(p.bin); err != nil {
			return nil, domain.Wrap(domain.CodeSupervisorError, err,
				"pm2 binary %q not found in PATH", p.bin).
				WithHints("install it with 'npm install -g pm2'")
		}
		p.run = p.execRun
	}
	return p, nil
}

func (p *PM2) execRun(ctx context.Context, env []string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.bin, args...)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	metrics.SupervisorCallDuration.WithLabelValues(args[0]).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, domain.Wrap(domain.CodeSupervisorError, ctx.Err(),
				"pm2 %s timed out after %s", args[0], p.timeout).
				WithHints("the pm2 daemon may be wedged: try 'pm2 ping' or 'pm2 kill'")
		}
		return nil, domain.Wrap(domain.CodeSupervisorError, err,
			"pm2 %s failed: %s", args[0], strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Start launches the unit as a bash -c wrapper so the command line can use
// shell syntax (&&, env expansion). Env vars are passed through the pm2
// client process; pm2 snapshots them into the unit's environment.
func (p *PM2) Start(ctx context.Context, spec UnitSpec) error {
	args := []string{"start", "bash", "--name", spec.Name}
	if spec.Cwd != "" {
		args = append(args, "--cwd", spec.Cwd)
	}
	args = append(args, "--", "-c", spec.Command)

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	if _, err := p.run(ctx, env, args...); err != nil {
		return err
	}
	p.logger.Info("started unit", "unit", spec.Name, "cwd", spec.Cwd)
	return nil
}

// Stop stops the unit, keeping it registered for a later resume.
func (p *PM2) Stop(ctx context.Context, name string) error {
	_, err := p.run(ctx, nil, "stop", name)
	return err
}

// Restart restarts the unit in place.
func (p *PM2) Restart(ctx context.Context, name string) error {
	_, err := p.run(ctx, nil, "restart", name)
	return err
}

// Delete removes the unit from pm2's process list.
func (p *PM2) Delete(ctx context.Context, name string) error {
	_, err := p.run(ctx, nil, "delete", name)
	return err
}

// pm2Proc is the subset of a "pm2 jlist" entry the adapter reads.
type pm2Proc struct {
	Name   string `json:"name"`
	PID    int    `json:"pid"`
	PM2Env struct {
		Status      string `json:"status"`
		RestartTime int    `json:"restart_time"`
		PMUptime    int64  `json:"pm_uptime"` // unix millis of last start
	} `json:"pm2_env"`
	Monit struct {
		CPU    float64 `json:"cpu"`
		Memory uint64  `json:"memory"`
	} `json:"monit"`
}

func (p *PM2) jlist(ctx context.Context) ([]pm2Proc, error) {
	out, err := p.run(ctx, nil, "jlist")
	if err != nil {
		return nil, err
	}
	// pm2 sometimes prints update banners before the JSON array.
	if i := bytes.IndexByte(out, '['); i > 0 {
		out = out[i:]
	}
	var procs []pm2Proc
	if err := json.Unmarshal(out, &procs); err != nil {
		return nil, domain.Wrap(domain.CodeSupervisorError, err, "cannot parse pm2 jlist output")
	}
	return procs, nil
}

// Status reports one unit. Units pm2 has never seen come back as
// "not_started" with no error.
func (p *PM2) Status(ctx context.Context, name string) (UnitStatus, error) {
	procs, err := p.jlist(ctx)
	if err != nil {
		return UnitStatus{}, err
	}
	for _, proc := range procs {
		if proc.Name == name {
			return toUnitStatus(proc), nil
		}
	}
	return UnitStatus{Name: name, State: domain.StateNotStarted}, nil
}

// List reports every unit pm2 manages.
func (p *PM2) List(ctx context.Context) ([]UnitStatus, error) {
	procs, err := p.jlist(ctx)
	if err != nil {
		return nil, err
	}
	units := make([]UnitStatus, 0, len(procs))
	for _, proc := range procs {
		units = append(units, toUnitStatus(proc))
	}
	return units, nil
}

func toUnitStatus(proc pm2Proc) UnitStatus {
	status := UnitStatus{
		Name:        proc.Name,
		State:       mapState(proc.PM2Env.Status),
		PID:         proc.PID,
		Restarts:    proc.PM2Env.RestartTime,
		CPUPercent:  proc.Monit.CPU,
		MemoryBytes: proc.Monit.Memory,
	}
	if status.State == domain.StateOnline && proc.PM2Env.PMUptime > 0 {
		status.Uptime = time.Since(time.UnixMilli(proc.PM2Env.PMUptime))
	}
	return status
}

func mapState(pm2Status string) domain.ServiceState {
	switch pm2Status {
	case "online":
		return domain.StateOnline
	case "launching":
		return domain.StateStarting
	case "stopping":
		return domain.StateStopping
	case "stopped":
		return domain.StateStopped
	case "errored":
		return domain.StateErrored
	default:
		return domain.StateNotStarted
	}
}

// LogFiles returns pm2's conventional per-unit log paths.
func (p *PM2) LogFiles(name string) (stdout, stderr string) {
	return filepath.Join(p.home, "logs", name+"-out.log"),
		filepath.Join(p.home, "logs", name+"-error.log")
}

// Logs reads the last n lines from the unit's stdout and stderr files,
// interleaving stderr after stdout. A non-positive n returns every line.
// Missing files mean the unit has not produced output yet, not an error.
func (p *PM2) Logs(ctx context.Context, name string, lines int) ([]string, error) {
	outPath, errPath := p.LogFiles(name)

	var combined []string
	for _, path := range []string{outPath, errPath} {
		tail, err := tailFile(path, lines)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, domain.Wrap(domain.CodeSupervisorError, err, "cannot read log file %s", path)
		}
		combined = append(combined, tail...)
	}
	return combined, nil
}

// tailFile returns the last n lines of a file, or all of them when n is
// non-positive. Log files for dev services stay small enough that a full
// read is fine.
func tailFile(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) == 1 && all[0] == "" {
		return nil, nil
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

var _ Supervisor = (*PM2)(nil)
