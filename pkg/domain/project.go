package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ServiceRole identifies which half of a project a service belongs to.
type ServiceRole string

const (
	RoleFrontend ServiceRole = "frontend"
	RoleBackend  ServiceRole = "backend"
)

// UnitSuffix returns the supervisor unit name suffix for the role.
func (r ServiceRole) UnitSuffix() string {
	if r == RoleFrontend {
		return "fe"
	}
	return "be"
}

// nameRe matches valid project names: lowercase first letter, then lowercase
// letters, digits, and hyphens.
var nameRe = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// ValidateName reports whether name is a usable project identifier.
func ValidateName(name string) error {
	if len(name) < 2 || len(name) > 50 {
		return fmt.Errorf("project name must be 2-50 characters, got %d", len(name))
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("invalid project name %q: must start with a lowercase letter and contain only lowercase letters, numbers, and hyphens", name)
	}
	return nil
}

// HealthCheck configures an HTTP readiness probe for a service.
type HealthCheck struct {
	Path    string `json:"path" yaml:"path" mapstructure:"path"`
	Timeout int    `json:"timeout" yaml:"timeout" mapstructure:"timeout"` // seconds
}

// ServiceConfig describes one runnable unit of a project.
type ServiceConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Port        int               `json:"port,omitempty" yaml:"port,omitempty" mapstructure:"port"`
	Command     string            `json:"command" yaml:"command" mapstructure:"command"`
	Cwd         string            `json:"cwd,omitempty" yaml:"cwd,omitempty" mapstructure:"cwd"` // relative to project path
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty" mapstructure:"env"`
	HealthCheck *HealthCheck      `json:"health_check,omitempty" yaml:"health_check,omitempty" mapstructure:"health_check"`
}

// Project is a registered development workload.
type Project struct {
	Name         string            `json:"name" yaml:"name" mapstructure:"name"`
	DisplayName  string            `json:"display_name,omitempty" yaml:"display_name,omitempty" mapstructure:"display_name"`
	Path         string            `json:"path" yaml:"path" mapstructure:"path"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Frontend     *ServiceConfig    `json:"frontend,omitempty" yaml:"frontend,omitempty" mapstructure:"frontend"`
	Backend      *ServiceConfig    `json:"backend,omitempty" yaml:"backend,omitempty" mapstructure:"backend"`
	EnvVars      map[string]string `json:"env_vars,omitempty" yaml:"env_vars,omitempty" mapstructure:"env_vars"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty" mapstructure:"dependencies"`
	Tags         []string          `json:"tags,omitempty" yaml:"tags,omitempty" mapstructure:"tags"`
	CreatedAt    time.Time         `json:"created_at" yaml:"created_at" mapstructure:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" yaml:"updated_at" mapstructure:"updated_at"`
	Notes        string            `json:"notes,omitempty" yaml:"notes,omitempty" mapstructure:"notes"`
}

// Service returns the config for the given role, or nil if absent.
func (p *Project) Service(role ServiceRole) *ServiceConfig {
	if role == RoleFrontend {
		return p.Frontend
	}
	return p.Backend
}

// UnitName returns the supervisor unit name for one of the project's services,
// e.g. "blog-fe" or "blog-be".
func (p *Project) UnitName(role ServiceRole) string {
	return p.Name + "-" + role.UnitSuffix()
}

// HasTag reports whether the project carries any of the given tags.
// An empty filter matches every project.
func (p *Project) HasTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range p.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// DeriveDisplayName turns a project name into a human-readable title,
// e.g. "my-blog" -> "My Blog".
func DeriveDisplayName(name string) string {
	words := strings.Split(name, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
