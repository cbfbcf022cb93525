package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/auth"
	"github.com/rhuss/toolbridge/pkg/discovery"
	"github.com/rhuss/toolbridge/pkg/executor"
	"github.com/rhuss/toolbridge/pkg/observability"
	"github.com/rhuss/toolbridge/pkg/storage"
	"github.com/rhuss/toolbridge/pkg/transport"
)

// Config holds the adapter's HTTP settings.
type Config struct {
	// MaxBodySize limits request bodies. Zero means 1 MB.
	MaxBodySize int64

	// CORSOrigins enables CORS for the listed origins. Empty disables it.
	CORSOrigins []string

	// MetricsPath serves Prometheus metrics when non-empty.
	MetricsPath string

	// Auth authenticates every request except the bypass endpoints. Nil
	// disables authentication.
	Auth *auth.Chain
}

func (c Config) maxBodySize() int64 {
	if c.MaxBodySize <= 0 {
		return 1 << 20
	}
	return c.MaxBodySize
}

// Services are the components the API exposes. Tools and Executions are
// required; routes backed by a nil optional service answer 501.
type Services struct {
	Tools      transport.ToolCatalog
	Executions transport.ExecutionService
	Health     transport.HealthService
	History    transport.HistoryReader
	Chat       *ChatService
}

// Adapter serves the toolbridge API over HTTP.
type Adapter struct {
	svc      Services
	cfg      Config
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	logger   *slog.Logger
}

// NewAdapter registers every route on a fresh ServeMux.
func NewAdapter(svc Services, cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		svc:      svc,
		cfg:      cfg,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		logger:   logger,
	}

	execute := func(h http.HandlerFunc) http.Handler { return auth.RequireScope(auth.ScopeExecute, h) }
	admin := func(h http.HandlerFunc) http.Handler { return auth.RequireScope(auth.ScopeAdmin, h) }

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	if cfg.MetricsPath != "" {
		a.mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	a.mux.HandleFunc("GET /v1/tools", a.handleListTools)
	a.mux.Handle("POST /v1/tools/invalidate", admin(a.handleInvalidateTools))
	a.mux.HandleFunc("GET /v1/tools/metrics", a.handleToolMetrics)
	a.mux.Handle("POST /v1/servers/{id}/tools/{tool}", execute(a.handleExecuteTool))

	a.mux.HandleFunc("GET /v1/executions", a.handleListExecutions)
	a.mux.HandleFunc("GET /v1/executions/stats", a.handleExecutionStats)
	a.mux.HandleFunc("GET /v1/executions/{id}", a.handleGetExecution)
	a.mux.Handle("DELETE /v1/executions/{id}", execute(a.handleCancelExecution))
	a.mux.Handle("POST /v1/executions/reset", admin(a.handleResetExecutions))
	a.mux.HandleFunc("GET /v1/history", a.handleListHistory)

	a.mux.HandleFunc("GET /v1/servers/health", a.handleServerHealth)
	a.mux.HandleFunc("GET /v1/servers/{id}/health", a.handleOneServerHealth)
	a.mux.Handle("POST /v1/servers/{id}/reenable", admin(a.handleReenable))

	a.mux.Handle("POST /v1/chat", execute(a.handleChat))
	a.mux.Handle("DELETE /v1/chat/{id}", execute(a.handleCancelChat))

	return a
}

// Handler returns the routes wrapped in recovery, request ID, logging,
// CORS and authentication, outermost first.
func (a *Adapter) Handler() http.Handler {
	mws := []transport.Middleware{
		transport.Recovery(a.logger),
		transport.RequestID(),
		transport.Logging(a.logger),
	}
	if a.cfg.MetricsPath != "" {
		mws = append(mws, observability.MetricsMiddleware)
	}
	if len(a.cfg.CORSOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins:   a.cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key", transport.RequestIDHeader},
			ExposedHeaders:   []string{transport.RequestIDHeader},
			AllowCredentials: true,
		})
		mws = append(mws, c.Handler)
	}
	if a.cfg.Auth != nil {
		bypass := auth.DefaultBypassEndpoints
		if a.cfg.MetricsPath != "" && a.cfg.MetricsPath != "/metrics" {
			bypass = append([]string{a.cfg.MetricsPath}, bypass...)
		}
		mws = append(mws, auth.Middleware(a.cfg.Auth, bypass))
	}
	return transport.Chain(mws...)(a.mux)
}

func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if a.svc.History != nil {
		if err := a.svc.History.HealthCheck(r.Context()); err != nil {
			transport.WriteError(w, http.StatusServiceUnavailable, transport.ErrorTypeServer, "history store unavailable: "+err.Error())
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok\n")
}

func (a *Adapter) handleListTools(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	snap, err := a.svc.Tools.Snapshot(r.Context(), discovery.Options{ForceRefresh: refresh})
	if err != nil {
		transport.WriteErrorFrom(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, snap)
}

func (a *Adapter) handleInvalidateTools(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "api request"
	}
	a.svc.Tools.Invalidate(reason)
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleToolMetrics(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSON(w, http.StatusOK, a.svc.Tools.Metrics())
}

// executeRequest is the body of POST /v1/servers/{id}/tools/{tool}.
type executeRequest struct {
	Parameters   map[string]any `json:"parameters"`
	DocumentPath string         `json:"document_path"`
	SectionLine  int            `json:"section_line"`
}

func (a *Adapter) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !a.decodeBody(w, r, &req, true) {
		return
	}

	res, err := a.svc.Executions.ExecuteToolWithID(r.Context(), executor.Request{
		ServerID:     r.PathValue("id"),
		ToolName:     r.PathValue("tool"),
		Parameters:   req.Parameters,
		Source:       api.SourceUserCodeblock,
		DocumentPath: req.DocumentPath,
		SectionLine:  req.SectionLine,
	})
	if err != nil {
		transport.WriteErrorFrom(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, res)
}

func (a *Adapter) handleListExecutions(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"data":   a.svc.Executions.History(),
		"active": a.svc.Executions.Stats().Active,
	})
}

func (a *Adapter) handleExecutionStats(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSON(w, http.StatusOK, a.svc.Executions.Stats())
}

// handleGetExecution looks the ID up in the executor's recent history
// first, then in the history store.
func (a *Adapter) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, e := range a.svc.Executions.History() {
		if e.RequestID == id {
			transport.WriteJSON(w, http.StatusOK, e)
			return
		}
	}
	if a.svc.History == nil {
		transport.WriteError(w, http.StatusNotFound, transport.ErrorTypeNotFound, fmt.Sprintf("execution %q not found", id))
		return
	}
	entry, err := a.svc.History.GetExecution(r.Context(), id)
	if err != nil {
		transport.WriteErrorFrom(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, entry)
}

func (a *Adapter) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.svc.Executions.CancelExecution(id) {
		transport.WriteError(w, http.StatusNotFound, transport.ErrorTypeNotFound, fmt.Sprintf("no active execution %q", id))
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{"requestId": id, "cancelled": true})
}

func (a *Adapter) handleResetExecutions(w http.ResponseWriter, _ *http.Request) {
	a.svc.Executions.Reset()
	transport.WriteJSON(w, http.StatusOK, a.svc.Executions.Stats())
}

func (a *Adapter) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if a.svc.History == nil {
		transport.WriteError(w, http.StatusNotImplemented, transport.ErrorTypeServer, "history store is not configured")
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		transport.WriteError(w, http.StatusBadRequest, transport.ErrorTypeInvalidRequest, err.Error())
		return
	}
	entries, err := a.svc.History.ListExecutions(r.Context(), filter)
	if err != nil {
		transport.WriteErrorFrom(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{"data": entries})
}

// parseFilter reads a storage.Filter from the query string.
func parseFilter(r *http.Request) (storage.Filter, error) {
	q := r.URL.Query()
	f := storage.Filter{
		ServerID:     q.Get("server"),
		ToolName:     q.Get("tool"),
		DocumentPath: q.Get("document"),
		Source:       api.ExecutionSource(q.Get("source")),
		Status:       api.ExecutionStatus(q.Get("status")),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("since must be RFC 3339: %w", err)
		}
		f.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit must be a non-negative integer, got %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

func (a *Adapter) handleServerHealth(w http.ResponseWriter, _ *http.Request) {
	if a.svc.Health == nil {
		transport.WriteError(w, http.StatusNotImplemented, transport.ErrorTypeServer, "health monitoring is disabled")
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{"data": a.svc.Health.AllHealthStatuses()})
}

func (a *Adapter) handleOneServerHealth(w http.ResponseWriter, r *http.Request) {
	if a.svc.Health == nil {
		transport.WriteError(w, http.StatusNotImplemented, transport.ErrorTypeServer, "health monitoring is disabled")
		return
	}
	id := r.PathValue("id")
	st, ok := a.svc.Health.HealthStatus(id)
	if !ok {
		transport.WriteError(w, http.StatusNotFound, transport.ErrorTypeNotFound, fmt.Sprintf("server %q is not monitored", id))
		return
	}
	transport.WriteJSON(w, http.StatusOK, st)
}

func (a *Adapter) handleReenable(w http.ResponseWriter, r *http.Request) {
	if a.svc.Health == nil {
		transport.WriteError(w, http.StatusNotImplemented, transport.ErrorTypeServer, "health monitoring is disabled")
		return
	}
	id := r.PathValue("id")
	a.svc.Health.ReenableServer(id)
	st, _ := a.svc.Health.HealthStatus(id)
	transport.WriteJSON(w, http.StatusOK, st)
}

// decodeBody reads a JSON body into v. An empty body is accepted when
// optional is set. It writes the error response and returns false on
// failure.
func (a *Adapter) decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		transport.WriteError(w, http.StatusUnsupportedMediaType, transport.ErrorTypeInvalidRequest, "Content-Type must be application/json")
		return false
	}
	body := http.MaxBytesReader(w, r.Body, a.cfg.maxBodySize())
	err := json.NewDecoder(body).Decode(v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF) && optional:
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		transport.WriteError(w, http.StatusRequestEntityTooLarge, transport.ErrorTypeInvalidRequest,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return false
	}
	transport.WriteError(w, http.StatusBadRequest, transport.ErrorTypeInvalidRequest, "invalid JSON body: "+err.Error())
	return false
}
