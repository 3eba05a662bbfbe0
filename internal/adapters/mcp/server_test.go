package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devfleet/devfleet/internal/netports"
	"github.com/devfleet/devfleet/internal/process"
	"github.com/devfleet/devfleet/internal/registry"
	"github.com/devfleet/devfleet/internal/store"
	"github.com/devfleet/devfleet/internal/supervisor"
	"github.com/devfleet/devfleet/pkg/domain"
)

func newTestServer(t *testing.T) (*Server, *supervisor.Fake) {
	t.Helper()
	st := store.NewFileStore(t.TempDir())
	reg, err := registry.New(st, registry.WithPortOptions(netports.WithProbe(func(int) bool { return false })))
	require.NoError(t, err)

	sup := supervisor.NewFake()
	ctrl := process.New(reg, sup)
	reg.SetStopper(ctrl)

	return NewServer(reg, ctrl, "test"), sup
}

func callReq(name string, args map[string]any) mcp.CallToolRequest {
	if args == nil {
		args = map[string]any{}
	}
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return text.Text
}

func registerFixture(t *testing.T, s *Server, name string) {
	t.Helper()
	result, err := s.handleRegisterProject(context.Background(), callReq("register_project", map[string]any{
		"name":             name,
		"path":             t.TempDir(),
		"frontend_command": "npm run dev",
		"backend_command":  "uvicorn main:app",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
}

func TestRegisterProjectTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleRegisterProject(ctx, callReq("register_project", map[string]any{
		"name":             "my-blog",
		"path":             t.TempDir(),
		"display_name":     "My Blog",
		"frontend_command": "npm run dev",
		"backend_command":  "uvicorn main:app",
		"env_vars":         `{"DEBUG":"true"}`,
		"tags":             "web, hobby",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var p domain.Project
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &p))
	assert.Equal(t, "my-blog", p.Name)
	assert.Equal(t, "My Blog", p.DisplayName)
	assert.Equal(t, 3001, p.Frontend.Port)
	assert.Equal(t, 8000, p.Backend.Port)
	assert.Contains(t, p.Tags, "web")
	assert.Contains(t, p.Tags, "hobby")
	assert.Equal(t, "true", p.EnvVars["DEBUG"])
}

func TestRegisterProjectTool_Errors(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	registerFixture(t, s, "taken")

	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{"invalid name", map[string]any{"name": "Bad_Name", "path": t.TempDir(), "frontend_command": "npm run dev"}, "INVALID_PATH"},
		{"duplicate", map[string]any{"name": "taken", "path": t.TempDir(), "frontend_command": "npm run dev"}, "PROJECT_EXISTS"},
		{"bad env json", map[string]any{"name": "ok-name", "path": t.TempDir(), "frontend_command": "npm run dev", "env_vars": "{nope"}, "JSON object"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := s.handleRegisterProject(ctx, callReq("register_project", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tc.want)
		})
	}
}

func TestToolErrorCarriesHints(t *testing.T) {
	s, _ := newTestServer(t)
	registerFixture(t, s, "taken")

	result, err := s.handleRegisterProject(context.Background(), callReq("register_project", map[string]any{
		"name":             "taken",
		"path":             t.TempDir(),
		"frontend_command": "npm run dev",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Hints:")
}

func TestListProjectsTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	registerFixture(t, s, "alpha")
	registerFixture(t, s, "beta")

	result, err := s.handleListProjects(ctx, callReq("list_projects", nil))
	require.NoError(t, err)

	var listings []projectListing
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &listings))
	require.Len(t, listings, 2)
	assert.Equal(t, "alpha", listings[0].Project.Name)
	require.NotNil(t, listings[0].Status)
	assert.Equal(t, domain.OverallStopped, listings[0].Status.Overall)

	result, err = s.handleListProjects(ctx, callReq("list_projects", map[string]any{"query": "beta"}))
	require.NoError(t, err)
	listings = nil
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, "beta", listings[0].Project.Name)
}

func TestLifecycleTools(t *testing.T) {
	s, sup := newTestServer(t)
	ctx := context.Background()
	registerFixture(t, s, "blog")

	startTool := s.lifecycleTool(func(ctx context.Context, name string, services []string) (*domain.OperationResult, error) {
		return s.ctrl.StartProject(ctx, name, services)
	})
	result, err := startTool(ctx, callReq("start_project", map[string]any{"name": "blog"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var op domain.OperationResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &op))
	assert.True(t, op.Success)

	status, err := sup.Status(ctx, "blog-fe")
	require.NoError(t, err)
	assert.Equal(t, domain.StateOnline, status.State)

	stopTool := s.lifecycleTool(func(ctx context.Context, name string, services []string) (*domain.OperationResult, error) {
		return s.ctrl.StopProject(ctx, name, services)
	})
	result, err = stopTool(ctx, callReq("stop_project", map[string]any{"name": "blog", "services": "frontend"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	status, err = sup.Status(ctx, "blog-fe")
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, status.State)

	result, err = startTool(ctx, callReq("start_project", map[string]any{"name": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "PROJECT_NOT_FOUND")
}

func TestRemoveProjectTool(t *testing.T) {
	s, sup := newTestServer(t)
	ctx := context.Background()
	registerFixture(t, s, "doomed")

	_, err := s.ctrl.StartProject(ctx, "doomed", nil)
	require.NoError(t, err)

	result, err := s.handleRemoveProject(ctx, callReq("remove_project", map[string]any{"name": "doomed"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	status, err := sup.Status(ctx, "doomed-fe")
	require.NoError(t, err)
	assert.Equal(t, domain.StateNotStarted, status.State)

	result, err = s.handleRemoveProject(ctx, callReq("remove_project", map[string]any{"name": "doomed"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestGetLogsTool(t *testing.T) {
	s, sup := newTestServer(t)
	ctx := context.Background()
	registerFixture(t, s, "blog")

	_, err := s.ctrl.StartProject(ctx, "blog", nil)
	require.NoError(t, err)
	sup.SetLogs("blog-be", "boot", "listening on :8000")

	result, err := s.handleGetLogs(ctx, callReq("get_project_logs", map[string]any{
		"name":    "blog",
		"service": "backend",
		"lines":   1,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var logs map[string][]string
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &logs))
	assert.Equal(t, []string{"listening on :8000"}, logs["backend"])
	assert.NotContains(t, logs, "frontend")
}

func TestPortStatusTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	registerFixture(t, s, "blog")

	result, err := s.handlePortStatus(ctx, callReq("get_port_status", nil))
	require.NoError(t, err)

	var report domain.PortStatusReport
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &report))
	assert.Contains(t, report.Frontend.Used, 3001)
	assert.Contains(t, report.Backend.Used, 8000)
	assert.Equal(t, 3002, report.Frontend.NextAvailable)
}

func TestBulkTools(t *testing.T) {
	s, sup := newTestServer(t)
	ctx := context.Background()
	registerFixture(t, s, "alpha")
	registerFixture(t, s, "beta")

	startAll := s.bulkTool(s.ctrl.StartAll)
	result, err := startAll(ctx, callReq("start_all_projects", nil))
	require.NoError(t, err)

	var results []domain.OperationResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &results))
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success, r.Message)
	}

	status, err := sup.Status(ctx, "alpha-fe")
	require.NoError(t, err)
	assert.Equal(t, domain.StateOnline, status.State)

	stopAll := s.bulkTool(s.ctrl.StopAll)
	_, err = stopAll(ctx, callReq("stop_all_projects", nil))
	require.NoError(t, err)

	status, err = sup.Status(ctx, "beta-be")
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, status.State)
}

func TestCSV(t *testing.T) {
	assert.Nil(t, csv(""))
	assert.Equal(t, []string{"frontend"}, csv("frontend"))
	assert.Equal(t, []string{"frontend", "backend"}, csv(" frontend , backend ,"))
}
