package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SnapshotVersion is the schema version written by this build.
// The major component gates loading: a snapshot with a different major
// version is refused rather than guessed at.
const SnapshotVersion = "1.0.0"

// PortRange is a contiguous interval of ports designated for one service role.
type PortRange struct {
	Start    int   `json:"start" yaml:"start"`
	End      int   `json:"end" yaml:"end"`
	Reserved []int `json:"reserved,omitempty" yaml:"reserved,omitempty"`
}

// Contains reports whether port falls inside the range (inclusive).
func (r PortRange) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

// IsReserved reports whether port is on the never-auto-allocate list.
func (r PortRange) IsReserved(port int) bool {
	for _, p := range r.Reserved {
		if p == port {
			return true
		}
	}
	return false
}

// Capacity is the number of allocatable ports in the range.
func (r PortRange) Capacity() int {
	n := r.End - r.Start + 1 - len(r.Reserved)
	if n < 0 {
		return 0
	}
	return n
}

func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// PortAllocation tracks the two role ranges and which project holds each port.
// Allocated keys are decimal port numbers; values are project names.
type PortAllocation struct {
	FrontendRange PortRange         `json:"frontend_range" yaml:"frontend_range"`
	BackendRange  PortRange         `json:"backend_range" yaml:"backend_range"`
	Allocated     map[string]string `json:"allocated" yaml:"allocated"`
}

// Range returns the PortRange for the given role.
func (a *PortAllocation) Range(role ServiceRole) PortRange {
	if role == RoleFrontend {
		return a.FrontendRange
	}
	return a.BackendRange
}

// Holder returns the project holding port, or "" if unallocated.
func (a *PortAllocation) Holder(port int) string {
	return a.Allocated[strconv.Itoa(port)]
}

// Claim records port as held by project.
func (a *PortAllocation) Claim(port int, project string) {
	if a.Allocated == nil {
		a.Allocated = make(map[string]string)
	}
	a.Allocated[strconv.Itoa(port)] = project
}

// Release removes every allocation held by project and returns the freed ports.
func (a *PortAllocation) Release(project string) []int {
	var freed []int
	for key, holder := range a.Allocated {
		if holder != project {
			continue
		}
		if port, err := strconv.Atoi(key); err == nil {
			freed = append(freed, port)
		}
		delete(a.Allocated, key)
	}
	return freed
}

// Settings is the process-wide configuration persisted with the snapshot.
type Settings struct {
	AutoGenerateEnv     bool     `json:"auto_generate_env" yaml:"auto_generate_env" mapstructure:"auto_generate_env"`
	EnvFileName         string   `json:"env_file_name" yaml:"env_file_name" mapstructure:"env_file_name"`
	SupervisorConfig    string   `json:"supervisor_config_path" yaml:"supervisor_config_path" mapstructure:"supervisor_config_path"`
	LogRetentionDays    int      `json:"log_retention_days" yaml:"log_retention_days" mapstructure:"log_retention_days"`
	HealthCheckInterval int      `json:"health_check_interval" yaml:"health_check_interval" mapstructure:"health_check_interval"`
	DashboardPort       int      `json:"dashboard_port" yaml:"dashboard_port" mapstructure:"dashboard_port"`
	DefaultTags         []string `json:"default_tags,omitempty" yaml:"default_tags,omitempty" mapstructure:"default_tags"`
}

// Metadata records bookkeeping about the snapshot itself.
type Metadata struct {
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	LastModified   time.Time `json:"last_modified" yaml:"last_modified"`
	LastModifiedBy string    `json:"last_modified_by" yaml:"last_modified_by"`
	TotalProjects  int       `json:"total_projects" yaml:"total_projects"`
}

// Snapshot is the complete persisted state of the control plane.
type Snapshot struct {
	Version        string              `json:"version" yaml:"version"`
	Projects       map[string]*Project `json:"projects" yaml:"projects"`
	Order          []string            `json:"project_order,omitempty" yaml:"project_order,omitempty"`
	PortAllocation PortAllocation      `json:"port_allocation" yaml:"port_allocation"`
	Settings       Settings            `json:"settings" yaml:"settings"`
	Metadata       Metadata            `json:"metadata" yaml:"metadata"`
}

// NewSnapshot returns a snapshot with the stock ranges and settings.
func NewSnapshot() *Snapshot {
	now := time.Now().UTC()
	return &Snapshot{
		Version:  SnapshotVersion,
		Projects: make(map[string]*Project),
		PortAllocation: PortAllocation{
			FrontendRange: PortRange{Start: 3000, End: 3099, Reserved: []int{3000}},
			BackendRange:  PortRange{Start: 8000, End: 8099, Reserved: []int{8501}},
			Allocated:     make(map[string]string),
		},
		Settings: Settings{
			AutoGenerateEnv:     true,
			EnvFileName:         ".env.local",
			SupervisorConfig:    "./ecosystem.config.js",
			LogRetentionDays:    7,
			HealthCheckInterval: 60,
			DashboardPort:       8501,
			DefaultTags:         []string{"local"},
		},
		Metadata: Metadata{
			CreatedAt:      now,
			LastModified:   now,
			LastModifiedBy: "system",
		},
	}
}

// ProjectList returns projects in insertion order. Entries present in the
// Projects map but missing from Order (snapshots written by older builds)
// are appended after the ordered ones.
func (s *Snapshot) ProjectList() []*Project {
	seen := make(map[string]bool, len(s.Projects))
	out := make([]*Project, 0, len(s.Projects))
	for _, name := range s.Order {
		if p, ok := s.Projects[name]; ok && !seen[name] {
			out = append(out, p)
			seen[name] = true
		}
	}
	for name, p := range s.Projects {
		if !seen[name] {
			out = append(out, p)
		}
	}
	return out
}

// AddProject inserts a project and records its position.
func (s *Snapshot) AddProject(p *Project) {
	if s.Projects == nil {
		s.Projects = make(map[string]*Project)
	}
	s.Projects[p.Name] = p
	s.Order = append(s.Order, p.Name)
}

// RemoveProject drops a project and its ordering entry.
func (s *Snapshot) RemoveProject(name string) {
	delete(s.Projects, name)
	for i, n := range s.Order {
		if n == name {
			s.Order = append(s.Order[:i], s.Order[i+1:]...)
			break
		}
	}
}

// CheckVersion verifies that version is loadable by this build.
func CheckVersion(version string) error {
	if version == "" {
		return fmt.Errorf("snapshot has no version field")
	}
	major := strings.SplitN(version, ".", 2)[0]
	wantMajor := strings.SplitN(SnapshotVersion, ".", 2)[0]
	if _, err := strconv.Atoi(major); err != nil {
		return fmt.Errorf("malformed snapshot version %q", version)
	}
	if major != wantMajor {
		return fmt.Errorf("snapshot version %s is not supported (want major %s)", version, wantMajor)
	}
	return nil
}
