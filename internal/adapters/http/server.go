// Package http exposes the dashboard API: project CRUD, lifecycle
// operations, port status, and an SSE event stream, matching the embedded
// OpenAPI description.
package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devfleet/devfleet/internal/logging"
	"github.com/devfleet/devfleet/internal/process"
	"github.com/devfleet/devfleet/internal/registry"
	"github.com/devfleet/devfleet/internal/store"
	"github.com/devfleet/devfleet/pkg/domain"
)

//go:embed openapi.yaml
var rawSpec []byte

// GetSwagger parses the embedded OpenAPI document.
func GetSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("cannot parse embedded openapi spec: %w", err)
	}
	return doc, nil
}

// Server wires the registry and the process controller behind the REST API.
type Server struct {
	reg     *registry.Registry
	ctrl    *process.Controller
	streams *StreamManager
	logger  *slog.Logger
	version string
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVersion sets the build version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewHandler builds the complete dashboard handler.
func NewHandler(reg *registry.Registry, ctrl *process.Controller, opts ...Option) http.Handler {
	s := &Server{
		reg:     reg,
		ctrl:    ctrl,
		streams: NewStreamManager(),
		logger:  logging.NewNop(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.getHealth)
	r.Get("/info", s.getInfo)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(rawSpec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(swaggerHTML))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/projects", s.listProjects)
		r.Post("/projects", s.registerProject)
		r.Get("/projects/{name}", s.getProject)
		r.Patch("/projects/{name}", s.updateProject)
		r.Delete("/projects/{name}", s.removeProject)
		r.Post("/projects/{name}/start", s.startProject)
		r.Post("/projects/{name}/stop", s.stopProject)
		r.Post("/projects/{name}/restart", s.restartProject)
		r.Get("/projects/{name}/status", s.getProjectStatus)
		r.Get("/projects/{name}/logs", s.getProjectLogs)
		r.Get("/status", s.getFleetStatus)
		r.Post("/start-all", s.startAll)
		r.Post("/stop-all", s.stopAll)
		r.Get("/ports", s.getPortStatus)
		r.Get("/settings", s.getSettings)
		r.Patch("/settings", s.updateSettings)
		r.Get("/backups", s.listBackups)
		r.Post("/backups/{name}/restore", s.restoreBackup)
		r.Get("/events", s.subscribeEvents)
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>devfleet API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Code  string   `json:"code,omitempty"`
	Error string   `json:"error"`
	Hints []string `json:"hints,omitempty"`
}

// statusFor maps coded domain errors onto HTTP statuses.
func statusFor(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	switch domain.CodeOf(err) {
	case domain.CodeProjectNotFound:
		return http.StatusNotFound
	case domain.CodeProjectExists, domain.CodePortInUse, domain.CodePortExhausted, domain.CodeServiceNotRunning:
		return http.StatusConflict
	case domain.CodeInvalidPath:
		return http.StatusBadRequest
	case domain.CodeSupervisorError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	} else {
		s.logger.Warn("request rejected", "error", err, "status", status)
	}
	s.writeJSON(w, status, errorBody{
		Code:  string(domain.CodeOf(err)),
		Error: err.Error(),
		Hints: domain.HintsOf(err),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getInfo(w http.ResponseWriter, _ *http.Request) {
	apiVersion := "unknown"
	if doc, err := GetSwagger(); err == nil && doc.Info != nil {
		apiVersion = doc.Info.Version
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":         "devfleet",
		"version":     strings.TrimSpace(s.version),
		"api_version": apiVersion,
	})
}

func tagsParam(r *http.Request) []string {
	raw := r.URL.Query().Get("tags")
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("q"); q != "" {
		results := s.reg.Search(q)
		if results == nil {
			results = []*domain.Project{}
		}
		s.writeJSON(w, http.StatusOK, results)
		return
	}
	projects := s.reg.List(tagsParam(r))
	if projects == nil {
		projects = []*domain.Project{}
	}
	s.writeJSON(w, http.StatusOK, projects)
}

func (s *Server) registerProject(w http.ResponseWriter, r *http.Request) {
	var in registry.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, domain.Wrap(domain.CodeInvalidPath, err, "invalid request body"))
		return
	}
	p, err := s.reg.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.streams.Broadcast(Event{Type: "project_registered", Project: p.Name})
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.reg.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		s.writeError(w, domain.Wrap(domain.CodeInvalidPath, err, "invalid request body"))
		return
	}
	p, err := s.reg.UpdateProject(r.Context(), chi.URLParam(r, "name"), updates)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.streams.Broadcast(Event{Type: "project_updated", Project: p.Name})
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) removeProject(w http.ResponseWriter, r *http.Request) {
	stop := true
	if raw := r.URL.Query().Get("stop"); raw != "" {
		stop, _ = strconv.ParseBool(raw)
	}
	name := chi.URLParam(r, "name")
	res, err := s.reg.Remove(r.Context(), name, stop)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.streams.Broadcast(Event{Type: "project_removed", Project: name})
	s.writeJSON(w, http.StatusOK, res)
}

// serviceSelector is the optional body of start/stop/restart requests.
type serviceSelector struct {
	Services []string `json:"services,omitempty"`
}

func decodeSelector(r *http.Request) []string {
	var sel serviceSelector
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&sel) // empty body means all services
	}
	return sel.Services
}

func (s *Server) startProject(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, "project_started", s.ctrl.StartProject)
}

func (s *Server) stopProject(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, "project_stopped", s.ctrl.StopProject)
}

func (s *Server) restartProject(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, "project_restarted", s.ctrl.RestartProject)
}

func (s *Server) lifecycleOp(w http.ResponseWriter, r *http.Request, event string,
	op func(context.Context, string, []string) (*domain.OperationResult, error)) {
	name := chi.URLParam(r, "name")
	res, err := op(r.Context(), name, decodeSelector(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.streams.Broadcast(Event{Type: event, Project: name, Payload: res})
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) getProjectStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.ctrl.Status(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) getProjectLogs(w http.ResponseWriter, r *http.Request) {
	lines := 50
	if raw := r.URL.Query().Get("lines"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			lines = n
		}
	}
	var services []string
	if svc := r.URL.Query().Get("service"); svc != "" {
		services = []string{svc}
	}
	logs, err := s.ctrl.Logs(r.Context(), chi.URLParam(r, "name"), services, lines)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) getFleetStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.ctrl.StatusAll(r.Context(), tagsParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if statuses == nil {
		statuses = []*domain.ProjectStatus{}
	}
	s.writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) startAll(w http.ResponseWriter, r *http.Request) {
	results := s.ctrl.StartAll(r.Context(), tagsParam(r))
	s.streams.Broadcast(Event{Type: "fleet_started", Payload: results})
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) stopAll(w http.ResponseWriter, r *http.Request) {
	results := s.ctrl.StopAll(r.Context(), tagsParam(r))
	s.streams.Broadcast(Event{Type: "fleet_stopped", Payload: results})
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) getPortStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.reg.Ports().Status(r.Context()))
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.reg.Settings())
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		s.writeError(w, domain.Wrap(domain.CodeInvalidPath, err, "invalid request body"))
		return
	}
	settings, err := s.reg.UpdateSettings(r.Context(), updates)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) listBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.reg.Backups(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, backups)
}

func (s *Server) restoreBackup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.reg.RestoreBackup(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	s.streams.Broadcast(Event{Type: "backup_restored"})
	s.writeJSON(w, http.StatusOK, map[string]string{"restored": name})
}

// subscribeEvents streams lifecycle events as SSE. Every connection also
// gets an initial full status snapshot so dashboards can render without a
// second request.
func (s *Server) subscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	project := r.URL.Query().Get("project")
	ch, cancel := s.streams.Subscribe(project)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	if snapshot, err := s.ctrl.StatusAll(r.Context(), nil); err == nil {
		if data, err := json.Marshal(Event{Type: "status_snapshot", Payload: snapshot}); err == nil {
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprintf(w, "event: ping\ndata: keepalive\n\n")
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
