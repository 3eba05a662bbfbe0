package tui_test

import (
	"strings"
	"testing"

	"github.com/devfleet/devfleet/internal/presentation/tui"
	"github.com/devfleet/devfleet/pkg/domain"
)

func project(name string, fePort, bePort int) *domain.Project {
	return &domain.Project{
		Name:        name,
		DisplayName: strings.ToUpper(name[:1]) + name[1:],
		Path:        "/home/dev/" + name,
		Tags:        []string{"local"},
		Frontend:    &domain.ServiceConfig{Enabled: true, Port: fePort, Command: "npm run dev"},
		Backend:     &domain.ServiceConfig{Enabled: true, Port: bePort, Command: "uvicorn main:app"},
	}
}

func TestProjectListView(t *testing.T) {
	tests := []struct {
		name     string
		projects []*domain.Project
		statuses map[string]*domain.ProjectStatus
		contains []string
	}{
		{
			name:     "Empty Registry",
			contains: []string{"No projects registered", "devfleet register"},
		},
		{
			name:     "Running And Stopped",
			projects: []*domain.Project{project("blog", 3001, 8000), project("shop", 3002, 8001)},
			statuses: map[string]*domain.ProjectStatus{
				"blog": {Name: "blog", Overall: domain.OverallRunning},
			},
			contains: []string{
				"| blog | 🟢 running | 3001 | 8000 | local |",
				"| shop | ⚪ stopped | 3002 | 8001 | local |",
			},
		},
		{
			name: "Disabled Service",
			projects: func() []*domain.Project {
				p := project("blog", 3001, 8000)
				p.Frontend.Enabled = false
				return []*domain.Project{p}
			}(),
			contains: []string{"3001 (disabled)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tui.ProjectListView(tt.projects, tt.statuses)
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestProjectDetailView(t *testing.T) {
	p := project("blog", 3001, 8000)
	p.Description = "personal blog"
	p.EnvVars = map[string]string{"DEBUG": "true", "API_KEY": "xyz"}

	status := &domain.ProjectStatus{
		Name:    "blog",
		Overall: domain.OverallPartial,
		Frontend: &domain.ServiceStatus{
			Name: "blog-fe", State: domain.StateOnline, Port: 3001,
			URL: "http://localhost:3001", Uptime: "2h3m", Memory: "50.0 MB", CPU: "1.5%",
		},
		Backend: &domain.ServiceStatus{Name: "blog-be", State: domain.StateStopped},
	}

	out := tui.ProjectDetailView(p, status)
	for _, want := range []string{
		"# Blog",
		"personal blog",
		"🟡 partial",
		"## Frontend",
		"http://localhost:3001",
		"Uptime: 2h3m",
		"Memory: 50.0 MB, CPU: 1.5%",
		"## Backend",
		"⚪ stopped",
		"## Environment",
		"`API_KEY=xyz`",
		"`DEBUG=true`",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	// Env vars render sorted.
	if strings.Index(out, "API_KEY") > strings.Index(out, "DEBUG") {
		t.Error("environment variables are not sorted")
	}
}

func TestStatusView(t *testing.T) {
	statuses := []*domain.ProjectStatus{
		{
			Name:     "blog",
			Overall:  domain.OverallRunning,
			Frontend: &domain.ServiceStatus{State: domain.StateOnline, Port: 3001},
			Backend:  &domain.ServiceStatus{State: domain.StateOnline, Port: 8000},
		},
		{
			Name:    "shop",
			Overall: domain.OverallError,
			Backend: &domain.ServiceStatus{State: domain.StateErrored},
		},
	}

	out := tui.StatusView(statuses)
	for _, want := range []string{
		"| blog | 🟢 running | 🟢 online :3001 | 🟢 online :8000 |",
		"| shop | 🔴 error | - | 🔴 errored |",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPortReportView(t *testing.T) {
	report := &domain.PortStatusReport{
		Frontend: domain.PortRangeStatus{
			Range:         "3000-3099",
			Used:          []int{3001, 3002},
			NextAvailable: 3003,
			Utilization:   "2/99 (2.0%)",
		},
		Backend: domain.PortRangeStatus{
			Range:       "8000-8001",
			Used:        []int{8000, 8001},
			Utilization: "2/2 (100.0%)",
			Conflicts:   []string{"port 8000 is allocated to ghost but not in use"},
		},
	}

	out := tui.PortReportView(report)
	for _, want := range []string{
		"## Frontend (3000-3099)",
		"Next available: 3003",
		"In use: 3001, 3002",
		"Next available: none (range exhausted)",
		"⚠️ port 8000 is allocated to ghost but not in use",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestResultsView(t *testing.T) {
	results := []*domain.OperationResult{
		{Success: true, Project: "blog", Message: "started"},
		{Success: false, Project: "shop", Message: "frontend: command exited"},
	}

	out := tui.ResultsView("Start All", results)
	for _, want := range []string{
		"# Start All",
		"✅ **blog**: started",
		"❌ **shop**: frontend: command exited",
		"1/2 succeeded",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
