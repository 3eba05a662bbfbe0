package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/devfleet/devfleet/pkg/domain"
)

func glyph(state domain.ServiceState) string {
	switch state {
	case domain.StateOnline:
		return "🟢"
	case domain.StateStarting, domain.StateStopping:
		return "🟡"
	case domain.StateErrored:
		return "🔴"
	default:
		return "⚪"
	}
}

func overallGlyph(overall domain.OverallStatus) string {
	switch overall {
	case domain.OverallRunning:
		return "🟢"
	case domain.OverallPartial:
		return "🟡"
	case domain.OverallError:
		return "🔴"
	default:
		return "⚪"
	}
}

// ProjectListView builds the markdown table shown by `devfleet list`.
// Statuses may be nil for a registry-only listing.
func ProjectListView(projects []*domain.Project, statuses map[string]*domain.ProjectStatus) string {
	var b strings.Builder
	b.WriteString("# Projects\n\n")
	if len(projects) == 0 {
		b.WriteString("No projects registered. Use `devfleet register` to add one.\n")
		return b.String()
	}

	b.WriteString("| Project | Status | Frontend | Backend | Tags |\n")
	b.WriteString("|---------|--------|----------|---------|------|\n")
	for _, p := range projects {
		overall := domain.OverallStopped
		if st, ok := statuses[p.Name]; ok && st != nil {
			overall = st.Overall
		}
		fmt.Fprintf(&b, "| %s | %s %s | %s | %s | %s |\n",
			p.Name,
			overallGlyph(overall), overall,
			portCell(p.Frontend),
			portCell(p.Backend),
			strings.Join(p.Tags, ", "),
		)
	}
	return b.String()
}

func portCell(cfg *domain.ServiceConfig) string {
	if cfg == nil {
		return "-"
	}
	if !cfg.Enabled {
		return fmt.Sprintf("%d (disabled)", cfg.Port)
	}
	return fmt.Sprintf("%d", cfg.Port)
}

// ProjectDetailView builds the markdown shown by `devfleet info <name>`.
func ProjectDetailView(p *domain.Project, status *domain.ProjectStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.DisplayName)
	fmt.Fprintf(&b, "- **Name:** %s\n", p.Name)
	fmt.Fprintf(&b, "- **Path:** %s\n", p.Path)
	if p.Description != "" {
		fmt.Fprintf(&b, "- **Description:** %s\n", p.Description)
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(&b, "- **Tags:** %s\n", strings.Join(p.Tags, ", "))
	}
	if status != nil {
		fmt.Fprintf(&b, "- **Status:** %s %s\n", overallGlyph(status.Overall), status.Overall)
	}

	writeService := func(label string, cfg *domain.ServiceConfig, st *domain.ServiceStatus) {
		if cfg == nil {
			return
		}
		fmt.Fprintf(&b, "\n## %s\n\n", label)
		fmt.Fprintf(&b, "- Port: %d\n", cfg.Port)
		fmt.Fprintf(&b, "- Command: `%s`\n", cfg.Command)
		if !cfg.Enabled {
			b.WriteString("- Disabled\n")
		}
		if st != nil {
			fmt.Fprintf(&b, "- State: %s %s\n", glyph(st.State), st.State)
			if st.URL != "" {
				fmt.Fprintf(&b, "- URL: %s\n", st.URL)
			}
			if st.Uptime != "" {
				fmt.Fprintf(&b, "- Uptime: %s\n", st.Uptime)
			}
			if st.Memory != "" {
				fmt.Fprintf(&b, "- Memory: %s, CPU: %s\n", st.Memory, st.CPU)
			}
		}
	}
	var fe, be *domain.ServiceStatus
	if status != nil {
		fe, be = status.Frontend, status.Backend
	}
	writeService("Frontend", p.Frontend, fe)
	writeService("Backend", p.Backend, be)

	if len(p.EnvVars) > 0 {
		b.WriteString("\n## Environment\n\n")
		keys := make([]string, 0, len(p.EnvVars))
		for k := range p.EnvVars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- `%s=%s`\n", k, p.EnvVars[k])
		}
	}
	return b.String()
}

// StatusView builds the fleet-wide status table shown by `devfleet status`.
func StatusView(statuses []*domain.ProjectStatus) string {
	var b strings.Builder
	b.WriteString("# Fleet Status\n\n")
	if len(statuses) == 0 {
		b.WriteString("No projects registered.\n")
		return b.String()
	}

	b.WriteString("| Project | Overall | Frontend | Backend |\n")
	b.WriteString("|---------|---------|----------|--------|\n")
	for _, st := range statuses {
		fmt.Fprintf(&b, "| %s | %s %s | %s | %s |\n",
			st.Name,
			overallGlyph(st.Overall), st.Overall,
			serviceCell(st.Frontend),
			serviceCell(st.Backend),
		)
	}
	return b.String()
}

func serviceCell(st *domain.ServiceStatus) string {
	if st == nil {
		return "-"
	}
	cell := fmt.Sprintf("%s %s", glyph(st.State), st.State)
	if st.State == domain.StateOnline && st.Port != 0 {
		cell += fmt.Sprintf(" :%d", st.Port)
	}
	return cell
}

// PortReportView builds the markdown shown by `devfleet ports`.
func PortReportView(report *domain.PortStatusReport) string {
	var b strings.Builder
	b.WriteString("# Port Status\n\n")
	writeRange := func(label string, rs domain.PortRangeStatus) {
		fmt.Fprintf(&b, "## %s (%s)\n\n", label, rs.Range)
		fmt.Fprintf(&b, "- Utilization: %s\n", rs.Utilization)
		if rs.NextAvailable != 0 {
			fmt.Fprintf(&b, "- Next available: %d\n", rs.NextAvailable)
		} else {
			b.WriteString("- Next available: none (range exhausted)\n")
		}
		if len(rs.Used) > 0 {
			used := make([]string, len(rs.Used))
			for i, p := range rs.Used {
				used[i] = fmt.Sprintf("%d", p)
			}
			fmt.Fprintf(&b, "- In use: %s\n", strings.Join(used, ", "))
		}
		for _, c := range rs.Conflicts {
			fmt.Fprintf(&b, "- ⚠️ %s\n", c)
		}
		b.WriteString("\n")
	}
	writeRange("Frontend", report.Frontend)
	writeRange("Backend", report.Backend)
	return b.String()
}

// ResultsView builds the markdown summary for bulk start/stop output.
func ResultsView(title string, results []*domain.OperationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	succeeded := 0
	for _, r := range results {
		mark := "✅"
		if !r.Success {
			mark = "❌"
		} else {
			succeeded++
		}
		fmt.Fprintf(&b, "- %s **%s**: %s\n", mark, r.Project, r.Message)
	}
	fmt.Fprintf(&b, "\n%d/%d succeeded\n", succeeded, len(results))
	return b.String()
}
