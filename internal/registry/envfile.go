package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devfleet/devfleet/pkg/domain"
)

// maybeWriteEnvFile regenerates the project's env file when auto-generation
// is enabled. Failures are logged, not returned: the registration itself
// already succeeded and the file can be regenerated on the next change.
func (r *Registry) maybeWriteEnvFile(p *domain.Project) {
	if p == nil {
		return
	}
	settings := r.Settings()
	if !settings.AutoGenerateEnv {
		return
	}
	path, err := WriteEnvFile(p, settings.EnvFileName)
	if err != nil {
		r.logger.Warn("failed to write env file", "project", p.Name, "error", err)
		return
	}
	r.logger.Debug("wrote env file", "project", p.Name, "path", path)
}

// WriteEnvFile regenerates the project's env file in full: port variables
// first, then custom env vars in sorted order. The file is clearly marked
// as machine-generated.
func WriteEnvFile(p *domain.Project, fileName string) (string, error) {
	if fileName == "" {
		fileName = ".env.local"
	}

	var b strings.Builder
	b.WriteString("# Auto-generated by devfleet\n")
	b.WriteString("# Do not edit manually - changes may be overwritten\n\n")

	if p.Frontend != nil && p.Frontend.Port != 0 {
		fmt.Fprintf(&b, "FRONTEND_PORT=%d\n", p.Frontend.Port)
	}
	if p.Backend != nil && p.Backend.Port != 0 {
		fmt.Fprintf(&b, "BACKEND_PORT=%d\n", p.Backend.Port)
		fmt.Fprintf(&b, "API_URL=%s\n", domain.LocalURL(p.Backend.Port))
	}

	keys := make([]string, 0, len(p.EnvVars))
	for k := range p.EnvVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, p.EnvVars[k])
	}

	path := filepath.Join(p.Path, fileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
