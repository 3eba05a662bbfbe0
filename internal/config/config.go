// Package config loads the devfleet configuration file. Everything has a
// working default so a fresh install needs no file at all; flags override
// whatever the file says.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/devfleet/devfleet/pkg/domain"
)

// Store backend names accepted in the config file.
const (
	StoreFile  = "file"
	StoreRedis = "redis"
)

// RedisConfig holds connection details for the redis snapshot store.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password,omitempty"`
	DB       int    `yaml:"db" json:"db"`
}

// SupervisorConfig holds the pm2 invocation details.
type SupervisorConfig struct {
	Binary string `yaml:"binary" json:"binary"`
	Home   string `yaml:"home" json:"home,omitempty"`
}

// Config is the devfleet configuration file (~/.devfleet/config.yaml).
type Config struct {
	DataDir       string           `yaml:"data_dir" json:"data_dir"`
	Store         string           `yaml:"store" json:"store"`
	Redis         RedisConfig      `yaml:"redis" json:"redis"`
	Supervisor    SupervisorConfig `yaml:"supervisor" json:"supervisor"`
	DashboardPort int              `yaml:"dashboard_port" json:"dashboard_port"`
	MCPPort       int              `yaml:"mcp_port" json:"mcp_port"`
	LogLevel      string           `yaml:"log_level" json:"log_level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir:       filepath.Join(home, ".devfleet"),
		Store:         StoreFile,
		Redis:         RedisConfig{Addr: "localhost:6379"},
		Supervisor:    SupervisorConfig{Binary: "pm2"},
		DashboardPort: 8501,
		MCPPort:       8502,
		LogLevel:      "info",
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".devfleet", "config.yaml")
}

// Load reads the config file at path, falling back to DefaultPath when path
// is empty. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, domain.Wrap(domain.CodeConfigError, err, "cannot read config file %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, domain.Wrap(domain.CodeConfigError, err, "cannot parse config file %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields a typo would most likely break.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreFile, StoreRedis:
	default:
		return domain.Errf(domain.CodeConfigError, "unknown store backend %q", c.Store).
			WithHints(fmt.Sprintf("use %q or %q", StoreFile, StoreRedis))
	}
	if c.Store == StoreRedis && c.Redis.Addr == "" {
		return domain.Errf(domain.CodeConfigError, "redis store selected but redis.addr is empty").
			WithHints("set redis.addr, e.g. localhost:6379")
	}
	if c.DashboardPort <= 0 || c.DashboardPort > 65535 {
		return domain.Errf(domain.CodeConfigError, "dashboard_port %d is out of range", c.DashboardPort)
	}
	if c.MCPPort <= 0 || c.MCPPort > 65535 {
		return domain.Errf(domain.CodeConfigError, "mcp_port %d is out of range", c.MCPPort)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return domain.Errf(domain.CodeConfigError, "unknown log_level %q", c.LogLevel).
			WithHints("use debug, info, warn, or error")
	}
	return nil
}

// Save writes the config to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return domain.Wrap(domain.CodeConfigError, err, "cannot encode config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.Wrap(domain.CodeConfigError, err, "cannot create config directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.Wrap(domain.CodeConfigError, err, "cannot write config file %s", path)
	}
	return nil
}
