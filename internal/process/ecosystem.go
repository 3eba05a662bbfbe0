package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devfleet/devfleet/pkg/domain"
)

// ecosystemApp is one pm2 app entry in an ecosystem.config.js file.
type ecosystemApp struct {
	Name   string            `json:"name"`
	Script string            `json:"script"`
	Args   []string          `json:"args"`
	Cwd    string            `json:"cwd"`
	Env    map[string]string `json:"env,omitempty"`
}

// WriteEcosystemConfig renders every enabled service of every registered
// project into a pm2 ecosystem file, so the whole fleet can also be driven
// by pm2 directly ("pm2 start ecosystem.config.js"). The file mirrors what
// StartProject would launch; it is regenerated in full on every call.
func (c *Controller) WriteEcosystemConfig(path string) error {
	var apps []ecosystemApp
	for _, p := range c.reg.List(nil) {
		for _, role := range []domain.ServiceRole{domain.RoleFrontend, domain.RoleBackend} {
			cfg := p.Service(role)
			if cfg == nil || !cfg.Enabled {
				continue
			}
			spec := c.unitSpec(p, role, cfg)
			apps = append(apps, ecosystemApp{
				Name:   spec.Name,
				Script: "bash",
				Args:   []string{"-c", spec.Command},
				Cwd:    spec.Cwd,
				Env:    spec.Env,
			})
		}
	}

	data, err := json.MarshalIndent(apps, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot render ecosystem apps: %w", err)
	}
	content := "// Auto-generated by devfleet - do not edit manually\n" +
		"module.exports = {\n  apps: " + indentTail(string(data)) + "\n};\n"

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("cannot write ecosystem config: %w", err)
	}
	c.logger.Info("wrote ecosystem config", "path", path, "apps", len(apps))
	return nil
}

// indentTail re-indents a marshalled JSON block to sit two spaces deep
// inside the module.exports object.
func indentTail(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		out = append(out, s[i])
		if s[i] == '\n' {
			out = append(out, ' ', ' ')
		}
	}
	return string(out)
}
