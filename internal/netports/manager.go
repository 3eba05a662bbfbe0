// Package netports implements conflict-free port allocation across the two
// configured service ranges. It cross-checks the declared allocation table
// against live OS port usage: the table cannot know about unmanaged
// processes, and a dead process may leave a stale entry, so the live probe
// is authoritative for availability decisions.
package netports

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/devfleet/devfleet/internal/logging"
	"github.com/devfleet/devfleet/pkg/domain"
)

// SnapshotAccess is the slice of the registry the manager needs: consistent
// reads of the snapshot and serialized, persisted mutations. The registry
// owns the snapshot; the manager holds no state of its own.
type SnapshotAccess interface {
	View(fn func(snap *domain.Snapshot))
	Update(modifiedBy string, fn func(snap *domain.Snapshot) error) error
}

// Manager allocates and releases ports from the configured ranges.
type Manager struct {
	reg SnapshotAccess

	// allocMu serializes allocate/release so concurrent registrations can
	// never pick the same port. It is distinct from the registry's snapshot
	// lock: the live probe runs while holding allocMu but not the snapshot
	// lock, so unrelated readers are not stalled by socket checks.
	allocMu sync.Mutex

	probe  ProbeFunc
	logger *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithProbe overrides the live port probe (used by tests).
func WithProbe(p ProbeFunc) Option {
	return func(m *Manager) {
		m.probe = p
	}
}

// WithLogger configures a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a port manager over the given snapshot access.
func NewManager(reg SnapshotAccess, opts ...Option) *Manager {
	m := &Manager{
		reg:    reg,
		probe:  ListenProbe,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsPortInUse reports whether a live process holds the port right now.
func (m *Manager) IsPortInUse(port int) bool {
	return m.probe(port)
}

// FindAvailable scans the role's range in ascending order and returns the
// first port that is not reserved, not in the allocation table, not in
// exclude, and not live-occupied. Returns a PORT_EXHAUSTED error when the
// range has no candidate left; it never wraps around.
func (m *Manager) FindAvailable(ctx context.Context, role domain.ServiceRole, exclude []int) (int, error) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()
	return m.findAvailable(ctx, role, exclude)
}

// findAvailable must be called with allocMu held. Candidates are computed
// under a snapshot read; the probe runs after the read lock is released.
// Probing binds a socket per candidate, so a wide range can take a while
// and the scan honors cancellation between candidates.
func (m *Manager) findAvailable(ctx context.Context, role domain.ServiceRole, exclude []int) (int, error) {
	var candidates []int
	var rng domain.PortRange
	m.reg.View(func(snap *domain.Snapshot) {
		rng = snap.PortAllocation.Range(role)
		for port := rng.Start; port <= rng.End; port++ {
			if rng.IsReserved(port) || snap.PortAllocation.Holder(port) != "" || contains(exclude, port) {
				continue
			}
			candidates = append(candidates, port)
		}
	})

	for _, port := range candidates {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if m.probe(port) {
			m.logger.Debug("port busy on the host, skipping", "port", port, "role", role)
			continue
		}
		return port, nil
	}
	return 0, domain.Errf(domain.CodePortExhausted,
		"no available %s ports in range %s", role, rng).
		WithHints("free a port with 'devfleet remove' or 'devfleet stop'",
			"or widen the range in the registry settings")
}

// CommitFunc runs inside the same atomic update that claims the ports.
// If it returns an error the whole operation aborts: no allocation and no
// other snapshot change is persisted.
type CommitFunc func(snap *domain.Snapshot, got map[domain.ServiceRole]int) error

// Allocate finds one port per requested role and commits them in a single
// persisted update. On partial failure (frontend found, backend exhausted)
// nothing is committed and the found port is discarded before returning.
func (m *Manager) Allocate(ctx context.Context, project string, needFrontend, needBackend bool, commit CommitFunc) (map[domain.ServiceRole]int, error) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	got := make(map[domain.ServiceRole]int)

	if needFrontend {
		port, err := m.findAvailable(ctx, domain.RoleFrontend, nil)
		if err != nil {
			return nil, err
		}
		got[domain.RoleFrontend] = port
	}
	if needBackend {
		port, err := m.findAvailable(ctx, domain.RoleBackend, []int{got[domain.RoleFrontend]})
		if err != nil {
			return nil, err // frontend pick discarded, nothing was committed
		}
		got[domain.RoleBackend] = port
	}
	if len(got) == 0 {
		if commit == nil {
			return got, nil
		}
		return got, m.reg.Update("allocate_ports", func(snap *domain.Snapshot) error {
			return commit(snap, got)
		})
	}

	err := m.reg.Update("allocate_ports", func(snap *domain.Snapshot) error {
		// Re-verify under the write lock: the table may have moved between
		// the unlocked probe and this commit.
		for role, port := range got {
			if holder := snap.PortAllocation.Holder(port); holder != "" {
				return domain.Errf(domain.CodePortInUse,
					"port %d was allocated to %q concurrently", port, holder)
			}
			if !snap.PortAllocation.Range(role).Contains(port) {
				return domain.Errf(domain.CodePortInUse,
					"port %d left the %s range concurrently", port, role)
			}
		}
		for _, port := range got {
			snap.PortAllocation.Claim(port, project)
		}
		if commit != nil {
			return commit(snap, got)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("allocated ports", "project", project, "ports", got)
	return got, nil
}

// Release removes every allocation held by the project. It is idempotent:
// releasing a project with no allocations is a successful no-op. It only
// mutates the snapshot, so it takes no context.
func (m *Manager) Release(project string) ([]int, error) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	var freed []int
	err := m.reg.Update("release_ports", func(snap *domain.Snapshot) error {
		freed = snap.PortAllocation.Release(project)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(freed) > 0 {
		m.logger.Info("released ports", "project", project, "ports", freed)
	}
	return freed, nil
}

// Validate reports whether port can be explicitly assigned for the role.
func (m *Manager) Validate(port int, role domain.ServiceRole) (bool, string) {
	var reason string
	m.reg.View(func(snap *domain.Snapshot) {
		rng := snap.PortAllocation.Range(role)
		switch {
		case !rng.Contains(port):
			reason = fmt.Sprintf("port %d is outside the %s range (%s)", port, role, rng)
		case rng.IsReserved(port):
			reason = fmt.Sprintf("port %d is reserved", port)
		case snap.PortAllocation.Holder(port) != "":
			reason = fmt.Sprintf("port %d is allocated to project %q", port, snap.PortAllocation.Holder(port))
		}
	})
	if reason != "" {
		return false, reason
	}
	if m.probe(port) {
		return false, fmt.Sprintf("port %d is already bound on the host, check what's using it", port)
	}
	return true, "port is available"
}

// Status builds the port usage overview. Stale table entries (allocated to
// a project that no longer exists) are flagged as conflicts for operator
// review; they are never freed automatically.
func (m *Manager) Status(ctx context.Context) *domain.PortStatusReport {
	report := &domain.PortStatusReport{}
	m.reg.View(func(snap *domain.Snapshot) {
		report.Frontend = m.rangeStatus(snap, domain.RoleFrontend)
		report.Backend = m.rangeStatus(snap, domain.RoleBackend)
	})
	if port, err := m.FindAvailable(ctx, domain.RoleFrontend, nil); err == nil {
		report.Frontend.NextAvailable = port
	}
	if port, err := m.FindAvailable(ctx, domain.RoleBackend, nil); err == nil {
		report.Backend.NextAvailable = port
	}
	return report
}

func (m *Manager) rangeStatus(snap *domain.Snapshot, role domain.ServiceRole) domain.PortRangeStatus {
	rng := snap.PortAllocation.Range(role)
	status := domain.PortRangeStatus{Range: rng.String()}

	var used []int
	for key, holder := range snap.PortAllocation.Allocated {
		port, err := strconv.Atoi(key)
		if err != nil || !rng.Contains(port) {
			continue
		}
		used = append(used, port)
		if _, ok := snap.Projects[holder]; !ok {
			status.Conflicts = append(status.Conflicts,
				fmt.Sprintf("port %d is allocated to unknown project %q (stale entry)", port, holder))
		}
	}
	sort.Ints(used)
	status.Used = used

	if capacity := rng.Capacity(); capacity > 0 {
		status.Utilization = fmt.Sprintf("%.1f%%", float64(len(used))/float64(capacity)*100)
	} else {
		status.Utilization = "0.0%"
	}
	sort.Strings(status.Conflicts)
	return status
}

func contains(ports []int, port int) bool {
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}
