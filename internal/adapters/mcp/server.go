// Package mcp exposes the orchestrator to coding agents over the Model
// Context Protocol. Every lifecycle and registry operation is a tool, so an
// agent can register a project, bring it up, and tail its logs without
// shelling out.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/devfleet/devfleet/internal/logging"
	"github.com/devfleet/devfleet/internal/process"
	"github.com/devfleet/devfleet/internal/registry"
	"github.com/devfleet/devfleet/pkg/domain"
)

// Server wraps the registry and process controller as an MCP server.
type Server struct {
	reg       *registry.Registry
	ctrl      *process.Controller
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger. MCP over stdio must keep stdout clean,
// so the logger should write to stderr or a file.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates the MCP server and registers all tools and resources.
func NewServer(reg *registry.Registry, ctrl *process.Controller, version string, opts ...Option) *Server {
	s := &Server{
		reg:       reg,
		ctrl:      ctrl,
		mcpServer: server.NewMCPServer("devfleet-mcp", strings.TrimSpace(version)),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("mcp server listening (sse)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// toolError renders a coded error for the agent, hints included, so the
// model can self-correct instead of retrying blindly.
func toolError(err error) *mcp.CallToolResult {
	msg := err.Error()
	if hints := domain.HintsOf(err); len(hints) > 0 {
		msg += "\nHints: " + strings.Join(hints, "; ")
	}
	return mcp.NewToolResultError(msg)
}

func toolJSON(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// csv splits a comma-separated argument into a clean slice.
func csv(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List registered projects with their live status. Optionally filter by tags or a search query."),
		mcp.WithString("tags", mcp.Description("Comma-separated tags; a project matches if it has any of them")),
		mcp.WithString("query", mcp.Description("Free-text search over name, display name, tags, and description")),
	), s.handleListProjects)

	s.mcpServer.AddTool(mcp.NewTool("register_project",
		mcp.WithDescription("Register a new project. Ports are allocated automatically unless explicit ones are given. At least one of frontend_command/backend_command is required."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Project identifier: lowercase letters, digits, hyphens")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path to the project directory")),
		mcp.WithString("display_name", mcp.Description("Human-readable name (derived from the identifier when omitted)")),
		mcp.WithString("description", mcp.Description("Short description")),
		mcp.WithString("frontend_command", mcp.Description("Shell command for the frontend dev server")),
		mcp.WithString("backend_command", mcp.Description("Shell command for the backend server")),
		mcp.WithNumber("frontend_port", mcp.Description("Explicit frontend port (must be free and inside the frontend range)")),
		mcp.WithNumber("backend_port", mcp.Description("Explicit backend port (must be free and inside the backend range)")),
		mcp.WithString("env_vars", mcp.Description("JSON object of extra environment variables")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
	), s.handleRegisterProject)

	s.mcpServer.AddTool(mcp.NewTool("remove_project",
		mcp.WithDescription("Remove a project from the registry, freeing its ports. Running services are stopped first unless keep_running is set."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Project name")),
		mcp.WithBoolean("keep_running", mcp.Description("Leave the processes running in the supervisor")),
	), s.handleRemoveProject)

	s.mcpServer.AddTool(mcp.NewTool("start_project",
		mcp.WithDescription("Start a project's services. Already-running services are left alone."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("services", mcp.Description("Comma-separated subset: frontend, backend. Empty starts all.")),
	), s.lifecycleTool(func(ctx context.Context, name string, services []string) (*domain.OperationResult, error) {
		return s.ctrl.StartProject(ctx, name, services)
	}))

	s.mcpServer.AddTool(mcp.NewTool("stop_project",
		mcp.WithDescription("Stop a project's services. Stopping something not running is a no-op."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("services", mcp.Description("Comma-separated subset: frontend, backend. Empty stops all.")),
	), s.lifecycleTool(func(ctx context.Context, name string, services []string) (*domain.OperationResult, error) {
		return s.ctrl.StopProject(ctx, name, services)
	}))

	s.mcpServer.AddTool(mcp.NewTool("restart_project",
		mcp.WithDescription("Restart a project's services."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("services", mcp.Description("Comma-separated subset: frontend, backend. Empty restarts all.")),
	), s.lifecycleTool(func(ctx context.Context, name string, services []string) (*domain.OperationResult, error) {
		return s.ctrl.RestartProject(ctx, name, services)
	}))

	s.mcpServer.AddTool(mcp.NewTool("get_project_logs",
		mcp.WithDescription("Fetch recent log lines for a project's services."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("service", mcp.Description("frontend or backend; empty fetches both")),
		mcp.WithNumber("lines", mcp.Description("Number of lines per service (default 50)")),
	), s.handleGetLogs)

	s.mcpServer.AddTool(mcp.NewTool("get_port_status",
		mcp.WithDescription("Report port range usage: allocated ports, next available, utilization, and stale allocations."),
	), s.handlePortStatus)

	s.mcpServer.AddTool(mcp.NewTool("start_all_projects",
		mcp.WithDescription("Start every registered project, optionally filtered by tags. Failures are independent per project."),
		mcp.WithString("tags", mcp.Description("Comma-separated tag filter")),
	), s.bulkTool(s.ctrl.StartAll))

	s.mcpServer.AddTool(mcp.NewTool("stop_all_projects",
		mcp.WithDescription("Stop every registered project, optionally filtered by tags."),
		mcp.WithString("tags", mcp.Description("Comma-separated tag filter")),
	), s.bulkTool(s.ctrl.StopAll))
}

// projectListing pairs registry data with live status for list_projects.
type projectListing struct {
	Project *domain.Project       `json:"project"`
	Status  *domain.ProjectStatus `json:"status,omitempty"`
}

func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var projects []*domain.Project
	if query := request.GetString("query", ""); query != "" {
		projects = s.reg.Search(query)
	} else {
		projects = s.reg.List(csv(request.GetString("tags", "")))
	}

	listings := make([]projectListing, 0, len(projects))
	for _, p := range projects {
		entry := projectListing{Project: p}
		if status, err := s.ctrl.Status(ctx, p.Name); err == nil {
			entry.Status = status
		} else {
			s.logger.Warn("status lookup failed during list", "project", p.Name, "error", err)
		}
		listings = append(listings, entry)
	}
	return toolJSON(listings), nil
}

func (s *Server) handleRegisterProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in := registry.RegisterInput{
		Name:            request.GetString("name", ""),
		Path:            request.GetString("path", ""),
		DisplayName:     request.GetString("display_name", ""),
		Description:     request.GetString("description", ""),
		FrontendCommand: request.GetString("frontend_command", ""),
		BackendCommand:  request.GetString("backend_command", ""),
		FrontendPort:    request.GetInt("frontend_port", 0),
		BackendPort:     request.GetInt("backend_port", 0),
		Tags:            csv(request.GetString("tags", "")),
	}
	if raw := request.GetString("env_vars", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.EnvVars); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("env_vars must be a JSON object: %v", err)), nil
		}
	}

	p, err := s.reg.Register(ctx, in)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(p), nil
}

func (s *Server) handleRemoveProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("name", "")
	stop := !request.GetBool("keep_running", false)
	res, err := s.reg.Remove(ctx, name, stop)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(res), nil
}

func (s *Server) lifecycleTool(op func(context.Context, string, []string) (*domain.OperationResult, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := op(ctx, request.GetString("name", ""), csv(request.GetString("services", "")))
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(res), nil
	}
}

func (s *Server) handleGetLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var services []string
	if svc := request.GetString("service", ""); svc != "" {
		services = []string{svc}
	}
	logs, err := s.ctrl.Logs(ctx, request.GetString("name", ""), services, request.GetInt("lines", 50))
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(logs), nil
}

func (s *Server) handlePortStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolJSON(s.reg.Ports().Status(ctx)), nil
}

func (s *Server) bulkTool(op func(context.Context, []string) []*domain.OperationResult) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return toolJSON(op(ctx, csv(request.GetString("tags", "")))), nil
	}
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("devfleet://projects", "Registered Projects",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.reg.List(nil))
		if err != nil {
			return nil, fmt.Errorf("failed to encode projects: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "devfleet://projects",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})

	s.mcpServer.AddResource(mcp.NewResource("devfleet://ports", "Port Allocation Status",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.reg.Ports().Status(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to encode port status: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "devfleet://ports",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
