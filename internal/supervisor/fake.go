package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/devfleet/devfleet/pkg/domain"
)

// Fake is an in-memory Supervisor for tests and dry runs. It tracks units
// the way pm2 does (stopped units stay listed until deleted) and supports
// scripted failures per unit.
type Fake struct {
	mu      sync.Mutex
	units   map[string]*fakeUnit
	logs    map[string][]string
	logDir  string
	failOps map[string]error // "start my-blog-fe" -> err
	calls   []string
}

type fakeUnit struct {
	spec     UnitSpec
	state    domain.ServiceState
	restarts int
}

// NewFake creates an empty fake supervisor.
func NewFake() *Fake {
	return &Fake{
		units:   make(map[string]*fakeUnit),
		logs:    make(map[string][]string),
		logDir:  filepath.Join(os.TempDir(), "fake-pm2"),
		failOps: make(map[string]error),
	}
}

// SetLogDir points LogFiles at dir, so tests can write real log files for
// follow-style tailing.
func (f *Fake) SetLogDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logDir = dir
}

// FailNext scripts the next matching op+unit call to return err.
func (f *Fake) FailNext(op, unit string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOps[op+" "+unit] = err
}

// SetLogs seeds log lines for a unit.
func (f *Fake) SetLogs(unit string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[unit] = lines
}

// SetState forces a unit into a state, creating it if needed. Used to
// simulate crashes and externally started units.
func (f *Fake) SetState(unit string, state domain.ServiceState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[unit]
	if !ok {
		u = &fakeUnit{spec: UnitSpec{Name: unit}}
		f.units[unit] = u
	}
	u.state = state
}

// Calls returns the recorded "op unit" call log.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// StartedWith returns the spec most recently passed to Start for the unit.
func (f *Fake) StartedWith(unit string) (UnitSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[unit]
	if !ok {
		return UnitSpec{}, false
	}
	return u.spec, true
}

func (f *Fake) scripted(op, unit string) error {
	key := op + " " + unit
	if err, ok := f.failOps[key]; ok {
		delete(f.failOps, key)
		return err
	}
	return nil
}

func (f *Fake) Start(ctx context.Context, spec UnitSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start "+spec.Name)
	if err := f.scripted("start", spec.Name); err != nil {
		return err
	}
	if u, ok := f.units[spec.Name]; ok && u.state == domain.StateOnline {
		return domain.Errf(domain.CodeSupervisorError, "unit %q is already online", spec.Name)
	}
	f.units[spec.Name] = &fakeUnit{spec: spec, state: domain.StateOnline}
	return nil
}

func (f *Fake) Stop(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop "+name)
	if err := f.scripted("stop", name); err != nil {
		return err
	}
	u, ok := f.units[name]
	if !ok {
		return domain.Errf(domain.CodeSupervisorError, "unit %q is not registered", name)
	}
	u.state = domain.StateStopped
	return nil
}

func (f *Fake) Restart(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "restart "+name)
	if err := f.scripted("restart", name); err != nil {
		return err
	}
	u, ok := f.units[name]
	if !ok {
		return domain.Errf(domain.CodeSupervisorError, "unit %q is not registered", name)
	}
	u.state = domain.StateOnline
	u.restarts++
	return nil
}

func (f *Fake) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete "+name)
	if err := f.scripted("delete", name); err != nil {
		return err
	}
	delete(f.units, name)
	return nil
}

func (f *Fake) Status(ctx context.Context, name string) (UnitStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("status", name); err != nil {
		return UnitStatus{}, err
	}
	u, ok := f.units[name]
	if !ok {
		return UnitStatus{Name: name, State: domain.StateNotStarted}, nil
	}
	return UnitStatus{Name: name, State: u.state, Restarts: u.restarts, PID: 1000}, nil
}

func (f *Fake) List(ctx context.Context) ([]UnitStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	units := make([]UnitStatus, 0, len(f.units))
	for name, u := range f.units {
		units = append(units, UnitStatus{Name: name, State: u.state, Restarts: u.restarts})
	}
	return units, nil
}

func (f *Fake) Logs(ctx context.Context, name string, lines int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.logs[name]
	if lines > 0 && len(out) > lines {
		out = out[len(out)-lines:]
	}
	return append([]string(nil), out...), nil
}

func (f *Fake) LogFiles(name string) (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filepath.Join(f.logDir, name+"-out.log"),
		filepath.Join(f.logDir, name+"-error.log")
}

var _ Supervisor = (*Fake)(nil)
