package domain

import "fmt"

// ServiceState is the canonical lifecycle state of one supervised service.
// Supervisor-native status strings are mapped onto these; anything the
// supervisor reports that is neither online nor stopped counts as errored.
type ServiceState string

const (
	StateNotStarted ServiceState = "not_started"
	StateStarting   ServiceState = "starting"
	StateOnline     ServiceState = "online"
	StateStopping   ServiceState = "stopping"
	StateStopped    ServiceState = "stopped"
	StateErrored    ServiceState = "errored"
)

// Resumable reports whether start may be issued from this state.
// There is no terminal state: stopped and errored both restart.
func (s ServiceState) Resumable() bool {
	return s == StateNotStarted || s == StateStopped || s == StateErrored
}

// ServiceStatus is the normalized live status of one service.
type ServiceStatus struct {
	Name   string       `json:"name"`
	State  ServiceState `json:"state"`
	PID    int          `json:"pid,omitempty"`
	Port   int          `json:"port,omitempty"`
	Uptime string       `json:"uptime,omitempty"`
	Memory string       `json:"memory,omitempty"`
	CPU    string       `json:"cpu,omitempty"`
	URL    string       `json:"url,omitempty"`
}

// OverallStatus is the per-project rollup of its service states.
type OverallStatus string

const (
	OverallRunning OverallStatus = "running"
	OverallStopped OverallStatus = "stopped"
	OverallPartial OverallStatus = "partial"
	OverallError   OverallStatus = "error"
)

// ProjectStatus reports the live state of a whole project.
type ProjectStatus struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	Frontend    *ServiceStatus `json:"frontend,omitempty"`
	Backend     *ServiceStatus `json:"backend,omitempty"`
	Overall     OverallStatus  `json:"overall_status"`
}

// Rollup computes the overall status from the present service states.
func Rollup(statuses ...*ServiceStatus) OverallStatus {
	var states []ServiceState
	for _, s := range statuses {
		if s != nil {
			states = append(states, s.State)
		}
	}
	if len(states) == 0 {
		return OverallStopped
	}
	online, idle := 0, 0
	for _, s := range states {
		switch s {
		case StateOnline:
			online++
		case StateErrored:
			return OverallError
		case StateStopped, StateNotStarted:
			idle++
		}
	}
	switch {
	case online == len(states):
		return OverallRunning
	case idle == len(states):
		return OverallStopped
	default:
		return OverallPartial
	}
}

// OperationResult is the outcome of a start/stop/restart on one project.
type OperationResult struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	Project  string         `json:"project"`
	Frontend *ServiceStatus `json:"frontend,omitempty"`
	Backend  *ServiceStatus `json:"backend,omitempty"`
}

// PortRangeStatus summarizes one range for getPortStatus.
type PortRangeStatus struct {
	Range         string   `json:"range"`
	Used          []int    `json:"used_ports"`
	NextAvailable int      `json:"next_available"` // 0 when exhausted
	Utilization   string   `json:"utilization"`
	Conflicts     []string `json:"conflicts,omitempty"` // allocated in the table but dead, or live but unallocated
}

// PortStatusReport is the full port usage overview.
type PortStatusReport struct {
	Frontend PortRangeStatus `json:"frontend"`
	Backend  PortRangeStatus `json:"backend"`
}

// LocalURL builds the conventional localhost URL for a port, or "" for none.
func LocalURL(port int) string {
	if port == 0 {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", port)
}
