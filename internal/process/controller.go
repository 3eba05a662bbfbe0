// Package process implements project lifecycle control on top of the
// supervisor adapter. The controller is stateless: the registry holds what
// should run, the supervisor knows what does run, and every operation
// reconciles the two on demand.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devfleet/devfleet/internal/logging"
	"github.com/devfleet/devfleet/internal/metrics"
	"github.com/devfleet/devfleet/internal/registry"
	"github.com/devfleet/devfleet/internal/supervisor"
	"github.com/devfleet/devfleet/pkg/domain"
)

// DefaultWorkers bounds concurrent start/stop-all operations so a large
// fleet cannot stampede the supervisor daemon.
const DefaultWorkers = 4

// Controller starts, stops, and inspects project services.
type Controller struct {
	reg     *registry.Registry
	sup     supervisor.Supervisor
	logger  *slog.Logger
	workers int
	backoff time.Duration
}

// Option configures the Controller.
type Option func(*Controller)

// WithLogger configures a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithWorkers sets the bulk-operation worker count.
func WithWorkers(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithRetryBackoff sets the delay before the single retry of a timed-out
// supervisor call.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Controller) { c.backoff = d }
}

// New creates a controller over a registry and a supervisor.
func New(reg *registry.Registry, sup supervisor.Supervisor, opts ...Option) *Controller {
	c := &Controller{
		reg:     reg,
		sup:     sup,
		logger:  logging.NewNop(),
		workers: DefaultWorkers,
		backoff: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// roles resolves the requested service filter against what the project
// actually defines. An empty filter targets every defined service.
func roles(p *domain.Project, services []string) ([]domain.ServiceRole, error) {
	all := []domain.ServiceRole{domain.RoleFrontend, domain.RoleBackend}
	var out []domain.ServiceRole
	if len(services) == 0 {
		for _, role := range all {
			if p.Service(role) != nil {
				out = append(out, role)
			}
		}
		return out, nil
	}
	for _, s := range services {
		role := domain.ServiceRole(s)
		if role != domain.RoleFrontend && role != domain.RoleBackend {
			return nil, domain.Errf(domain.CodeInvalidPath, "unknown service %q: use %q or %q",
				s, domain.RoleFrontend, domain.RoleBackend)
		}
		if p.Service(role) == nil {
			return nil, domain.Errf(domain.CodeServiceNotRunning,
				"project %q has no %s service", p.Name, role)
		}
		out = append(out, role)
	}
	return out, nil
}

// withRetry runs a supervisor call and retries exactly once when it timed
// out, after a short backoff. Other failures surface immediately.
func (c *Controller) withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	c.logger.Warn("supervisor call timed out, retrying once", "op", op, "backoff", c.backoff)
	select {
	case <-time.After(c.backoff):
	case <-ctx.Done():
		return err
	}
	return fn()
}

// StartProject starts the project's services (or the given subset). A
// service that is already online is left alone; a stopped unit is resumed
// in place. Per-service failures are aggregated: the result reports
// partial success instead of aborting the remaining services.
func (c *Controller) StartProject(ctx context.Context, name string, services []string) (res *domain.OperationResult, err error) {
	defer func() { metrics.ObserveOp("start_project", err) }()

	p, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	targets, err := roles(p, services)
	if err != nil {
		return nil, err
	}

	res = &domain.OperationResult{Project: name, Success: true}
	var notes []string
	for _, role := range targets {
		cfg := p.Service(role)
		unit := p.UnitName(role)
		if !cfg.Enabled {
			notes = append(notes, fmt.Sprintf("%s disabled, skipped", role))
			continue
		}

		status, supErr := c.sup.Status(ctx, unit)
		if supErr != nil {
			res.Success = false
			notes = append(notes, fmt.Sprintf("%s: %v", role, supErr))
			continue
		}
		if status.State == domain.StateOnline || status.State == domain.StateStarting {
			notes = append(notes, fmt.Sprintf("%s already running", role))
			c.setServiceStatus(res, role, c.serviceStatus(p, role, status))
			continue
		}

		if status.State == domain.StateStopped || status.State == domain.StateErrored {
			// The unit exists in the supervisor: resume it rather than
			// registering a duplicate.
			supErr = c.withRetry(ctx, "restart "+unit, func() error {
				return c.sup.Restart(ctx, unit)
			})
		} else {
			spec := c.unitSpec(p, role, cfg)
			supErr = c.withRetry(ctx, "start "+unit, func() error {
				return c.sup.Start(ctx, spec)
			})
		}
		if supErr != nil {
			res.Success = false
			notes = append(notes, fmt.Sprintf("%s: %v", role, supErr))
			continue
		}

		status, supErr = c.sup.Status(ctx, unit)
		if supErr == nil && status.State == domain.StateErrored {
			res.Success = false
			notes = append(notes, fmt.Sprintf("%s errored right after start", role))
		} else {
			notes = append(notes, fmt.Sprintf("%s started", role))
		}
		c.setServiceStatus(res, role, c.serviceStatus(p, role, status))
	}

	res.Message = strings.Join(notes, "; ")
	c.logger.Info("start project", "project", name, "success", res.Success, "detail", res.Message)
	return res, nil
}

// unitSpec builds the supervisor spec for one service: project env vars
// first, service env overrides on top, PORT always set by the allocator.
func (c *Controller) unitSpec(p *domain.Project, role domain.ServiceRole, cfg *domain.ServiceConfig) supervisor.UnitSpec {
	env := make(map[string]string, len(p.EnvVars)+len(cfg.Env)+1)
	for k, v := range p.EnvVars {
		env[k] = v
	}
	for k, v := range cfg.Env {
		env[k] = v
	}
	if cfg.Port != 0 {
		env["PORT"] = strconv.Itoa(cfg.Port)
	}

	cwd := p.Path
	if cfg.Cwd != "" {
		cwd = filepath.Join(p.Path, cfg.Cwd)
	}
	return supervisor.UnitSpec{
		Name:    p.UnitName(role),
		Command: cfg.Command,
		Cwd:     cwd,
		Env:     env,
	}
}

// StopProject stops the project's services. Stopping a service that is not
// running is a successful no-op. Implements registry.Stopper.
func (c *Controller) StopProject(ctx context.Context, name string, services []string) (res *domain.OperationResult, err error) {
	defer func() { metrics.ObserveOp("stop_project", err) }()

	p, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	targets, err := roles(p, services)
	if err != nil {
		return nil, err
	}

	res = &domain.OperationResult{Project: name, Success: true}
	var notes []string
	for _, role := range targets {
		unit := p.UnitName(role)
		status, supErr := c.sup.Status(ctx, unit)
		if supErr != nil {
			res.Success = false
			notes = append(notes, fmt.Sprintf("%s: %v", role, supErr))
			continue
		}
		if status.State == domain.StateNotStarted || status.State == domain.StateStopped {
			notes = append(notes, fmt.Sprintf("%s not running", role))
			c.setServiceStatus(res, role, c.serviceStatus(p, role, status))
			continue
		}

		supErr = c.withRetry(ctx, "stop "+unit, func() error {
			return c.sup.Stop(ctx, unit)
		})
		if supErr != nil {
			res.Success = false
			notes = append(notes, fmt.Sprintf("%s: %v", role, supErr))
			continue
		}
		notes = append(notes, fmt.Sprintf("%s stopped", role))
		status, _ = c.sup.Status(ctx, unit)
		c.setServiceStatus(res, role, c.serviceStatus(p, role, status))
	}

	res.Message = strings.Join(notes, "; ")
	c.logger.Info("stop project", "project", name, "success", res.Success, "detail", res.Message)
	return res, nil
}

// RestartProject stops then starts the services, tolerating a stop of
// something that was not running. A stop failure makes the whole restart
// fail and its detail is carried in the result message.
func (c *Controller) RestartProject(ctx context.Context, name string, services []string) (res *domain.OperationResult, err error) {
	defer func() { metrics.ObserveOp("restart_project", err) }()

	stopRes, err := c.StopProject(ctx, name, services)
	if err != nil {
		return nil, err
	}
	res, err = c.StartProject(ctx, name, services)
	if err != nil {
		return nil, err
	}
	if !stopRes.Success {
		res.Success = false
		res.Message = fmt.Sprintf("restarted: stop failed (%s); %s", stopRes.Message, res.Message)
		return res, nil
	}
	res.Message = "restarted: " + res.Message
	return res, nil
}

// DeleteProject removes the project's units from the supervisor's process
// list. Units the supervisor has never seen are skipped. Implements the
// delete half of registry.Stopper.
func (c *Controller) DeleteProject(ctx context.Context, name string) error {
	p, err := c.reg.Get(name)
	if err != nil {
		return err
	}
	targets, err := roles(p, nil)
	if err != nil {
		return err
	}

	var failed []string
	for _, role := range targets {
		unit := p.UnitName(role)
		status, supErr := c.sup.Status(ctx, unit)
		if supErr != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", role, supErr))
			continue
		}
		if status.State == domain.StateNotStarted {
			continue
		}
		if supErr := c.sup.Delete(ctx, unit); supErr != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", role, supErr))
		}
	}
	if len(failed) > 0 {
		return domain.Errf(domain.CodeSupervisorError,
			"could not delete supervisor units: %s", strings.Join(failed, "; "))
	}
	c.logger.Info("deleted supervisor units", "project", name)
	return nil
}

// Status reports the live state of one project, including services the
// supervisor has never seen (reported as not_started).
func (c *Controller) Status(ctx context.Context, name string) (*domain.ProjectStatus, error) {
	p, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	return c.projectStatus(ctx, p)
}

// StatusAll reports live state for every registered project, optionally
// filtered by tags.
func (c *Controller) StatusAll(ctx context.Context, tags []string) ([]*domain.ProjectStatus, error) {
	var out []*domain.ProjectStatus
	for _, p := range c.reg.List(tags) {
		status, err := c.projectStatus(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

func (c *Controller) projectStatus(ctx context.Context, p *domain.Project) (*domain.ProjectStatus, error) {
	status := &domain.ProjectStatus{Name: p.Name, DisplayName: p.DisplayName}
	for _, role := range []domain.ServiceRole{domain.RoleFrontend, domain.RoleBackend} {
		if p.Service(role) == nil {
			continue
		}
		unit, err := c.sup.Status(ctx, p.UnitName(role))
		if err != nil {
			return nil, err
		}
		c.setProjectStatus(status, role, c.serviceStatus(p, role, unit))
	}
	status.Overall = domain.Rollup(status.Frontend, status.Backend)
	return status, nil
}

func (c *Controller) serviceStatus(p *domain.Project, role domain.ServiceRole, unit supervisor.UnitStatus) *domain.ServiceStatus {
	cfg := p.Service(role)
	s := &domain.ServiceStatus{
		Name:  p.UnitName(role),
		State: unit.State,
		PID:   unit.PID,
	}
	if cfg != nil {
		s.Port = cfg.Port
	}
	if unit.State == domain.StateOnline {
		s.URL = domain.LocalURL(s.Port)
		s.Uptime = formatUptime(unit.Uptime)
		s.Memory = formatMemory(unit.MemoryBytes)
		s.CPU = fmt.Sprintf("%.1f%%", unit.CPUPercent)
	}
	return s
}

func (c *Controller) setServiceStatus(res *domain.OperationResult, role domain.ServiceRole, s *domain.ServiceStatus) {
	if role == domain.RoleFrontend {
		res.Frontend = s
	} else {
		res.Backend = s
	}
}

func (c *Controller) setProjectStatus(ps *domain.ProjectStatus, role domain.ServiceRole, s *domain.ServiceStatus) {
	if role == domain.RoleFrontend {
		ps.Frontend = s
	} else {
		ps.Backend = s
	}
}

func formatUptime(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.Round(time.Second).String()
}

func formatMemory(bytes uint64) string {
	const mb = 1 << 20
	if bytes == 0 {
		return ""
	}
	return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
}

// Logs returns the last lines of each targeted service's output, keyed by
// service role. A non-positive line count returns the full history.
func (c *Controller) Logs(ctx context.Context, name string, services []string, lines int) (map[string][]string, error) {
	p, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	targets, err := roles(p, services)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(targets))
	for _, role := range targets {
		tail, err := c.sup.Logs(ctx, p.UnitName(role), lines)
		if err != nil {
			return nil, err
		}
		out[string(role)] = tail
	}
	return out, nil
}

// FollowLogs streams new stdout lines for one service until ctx is
// cancelled. It tails the unit's stdout log file by byte offset, which is
// how pm2's own "logs" command works under the hood. The full existing file
// is emitted first, then new lines as they are appended.
func (c *Controller) FollowLogs(ctx context.Context, name string, service string, interval time.Duration) (<-chan string, error) {
	p, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	targets, err := roles(p, []string{service})
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	stdout, _ := c.sup.LogFiles(p.UnitName(targets[0]))
	ch := make(chan string, 64)
	go c.followLoop(ctx, stdout, interval, ch)
	return ch, nil
}

func (c *Controller) followLoop(ctx context.Context, path string, interval time.Duration, ch chan<- string) {
	defer close(ch)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var offset int64
	var partial []byte
	for {
		offset, partial = c.emitNewLines(ctx, path, offset, partial, ch)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// emitNewLines reads the file from offset, sends every complete new line on
// ch, and returns the advanced offset plus any trailing bytes that are not
// yet terminated by a newline. A shrunken file means rotation or truncation
// and restarts the tail from the beginning; a missing file means the unit
// has not produced output yet.
func (c *Controller) emitNewLines(ctx context.Context, path string, offset int64, partial []byte, ch chan<- string) (int64, []byte) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		c.logger.Warn("log follow read failed", "path", path, "error", err)
		return offset, partial
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return offset, partial
	}
	if info.Size() < offset {
		offset, partial = 0, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, partial
	}
	data, err := io.ReadAll(f)
	if err != nil {
		c.logger.Warn("log follow read failed", "path", path, "error", err)
		return offset, partial
	}
	offset += int64(len(data))

	buf := append(partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(buf[:i]), "\r")
		buf = buf[i+1:]
		select {
		case ch <- line:
		case <-ctx.Done():
			return offset, buf
		}
	}
	return offset, buf
}

// bulkResult pairs a project with its operation outcome for StartAll/StopAll.
type bulkResult struct {
	index int
	res   *domain.OperationResult
}

// StartAll starts every registered project (optionally tag-filtered) with a
// bounded worker pool. Failures are independent: one broken project does
// not stop the rest.
func (c *Controller) StartAll(ctx context.Context, tags []string) []*domain.OperationResult {
	return c.bulk(ctx, tags, c.StartProject)
}

// StopAll stops every registered project (optionally tag-filtered).
func (c *Controller) StopAll(ctx context.Context, tags []string) []*domain.OperationResult {
	return c.bulk(ctx, tags, c.StopProject)
}

func (c *Controller) bulk(ctx context.Context, tags []string, op func(context.Context, string, []string) (*domain.OperationResult, error)) []*domain.OperationResult {
	projects := c.reg.List(tags)
	results := make([]*domain.OperationResult, len(projects))

	jobs := make(chan int)
	out := make(chan bulkResult)
	var wg sync.WaitGroup
	for w := 0; w < c.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := op(ctx, projects[i].Name, nil)
				if err != nil {
					res = &domain.OperationResult{
						Project: projects[i].Name,
						Success: false,
						Message: err.Error(),
					}
				}
				out <- bulkResult{index: i, res: res}
			}
		}()
	}
	go func() {
		for i := range projects {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
		close(out)
	}()

	for r := range out {
		results[r.index] = r.res
	}
	return results
}
