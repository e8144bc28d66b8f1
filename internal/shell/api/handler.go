// Package api provides the administrative HTTP API of the healer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/healer/internal/core/domain"
	authmw "github.com/artpar/healer/internal/shell/api/middleware"
	"github.com/artpar/healer/internal/shell/api/openapi"
	"github.com/artpar/healer/internal/shell/faults"
	"github.com/artpar/healer/internal/shell/healer"
	"github.com/artpar/healer/internal/shell/store"
)

// Limits for list endpoints.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 1000

	maxBodyBytes = 1 << 20
	readyTimeout = 3 * time.Second
)

// =============================================================================
// Dependencies
// =============================================================================

// Healer is the orchestrator surface the API serves.
type Healer interface {
	Running() bool
	GetStatus() healer.Status
	UpdateConfig(u domain.ConfigUpdate) (domain.HealerConfig, error)
	GetHistory(limit int) []domain.HealingAttempt
	GetStatistics() domain.Statistics
	ManualHeal(ctx context.Context, f domain.Fault) (domain.HealingAttempt, error)
	ExecuteAction(ctx context.Context, req healer.ExecuteRequest) (domain.HealingAttempt, error)
}

// FaultQueue accepts externally detected faults.
type FaultQueue interface {
	Push(f domain.Fault) error
	Len() int
}

// Archive reads archived attempts.
type Archive interface {
	ListAttempts(ctx context.Context, opts store.ListOptions) ([]domain.HealingAttempt, error)
}

// Pinger checks a dependency for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the handler's dependencies. Only Healer is required.
type Config struct {
	Healer  Healer
	Queue   FaultQueue
	Archive Archive
	Docker  Pinger
	Metrics http.Handler
	Token   string
	Version string
	Logger  *slog.Logger
}

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	healer  Healer
	queue   FaultQueue
	archive Archive
	docker  Pinger
	metrics http.Handler
	auth    *authmw.AuthMiddleware
	openapi *openapi.Generator
	logger  *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	h := &Handler{
		healer:  cfg.Healer,
		queue:   cfg.Queue,
		archive: cfg.Archive,
		docker:  cfg.Docker,
		metrics: cfg.Metrics,
		auth:    authmw.NewAuthMiddleware(authmw.AuthConfig{Token: cfg.Token, Logger: cfg.Logger}),
		openapi: openapi.NewGenerator(openapi.WithVersion(version)),
		logger:  cfg.Logger.With("component", "api"),
	}
	h.registerOperations()
	return h
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/openapi.json", h.openapi.Handler())

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Handler)
			r.Use(h.jsonContentType)

			r.Get("/status", h.handleStatus)
			r.Put("/config", h.handleUpdateConfig)
			r.Get("/history", h.handleHistory)
			r.Get("/statistics", h.handleStatistics)
			r.Post("/heal", h.handleHeal)
			r.Post("/actions/execute", h.handleExecuteAction)
			r.Post("/faults", h.handleEnqueueFault)
		})
	})

	return r
}

// registerOperations documents the routes served by Routes.
func (h *Handler) registerOperations() {
	ops := []openapi.Operation{
		{Method: http.MethodGet, Path: "/health", ID: "health", Summary: "Liveness", Tag: "Health", Response: HealthResponse{}},
		{Method: http.MethodGet, Path: "/ready", ID: "ready", Summary: "Readiness", Tag: "Health", Response: ReadyResponse{},
			ErrorStatus: []int{http.StatusServiceUnavailable}},
		{Method: http.MethodGet, Path: "/api/v1/status", ID: "getStatus", Summary: "Configuration and running state",
			Tag: "Healer", Response: healer.Status{}},
		{Method: http.MethodPut, Path: "/api/v1/config", ID: "updateConfig", Summary: "Partially update the runtime configuration",
			Tag: "Healer", Request: domain.ConfigUpdate{}, Response: ConfigResponse{},
			ErrorStatus: []int{http.StatusBadRequest, http.StatusServiceUnavailable}},
		{Method: http.MethodGet, Path: "/api/v1/history", ID: "getHistory", Summary: "Recent healing attempts, newest first",
			Tag: "Healer", Response: HistoryResponse{},
			Query: []openapi.QueryParam{
				{Name: "limit", Type: "integer", Description: "maximum attempts to return"},
				{Name: "status", Description: "only attempts with this status"},
				{Name: "source", Description: "memory (default) or archive"},
			},
			ErrorStatus: []int{http.StatusBadRequest}},
		{Method: http.MethodGet, Path: "/api/v1/statistics", ID: "getStatistics", Summary: "Outcome statistics",
			Tag: "Healer", Response: domain.Statistics{}},
		{Method: http.MethodPost, Path: "/api/v1/heal", ID: "manualHeal", Summary: "Heal a fault now",
			Tag: "Healer", Request: domain.Fault{}, Response: AttemptResponse{},
			ErrorStatus: []int{http.StatusBadRequest, http.StatusConflict, http.StatusServiceUnavailable}},
		{Method: http.MethodPost, Path: "/api/v1/actions/execute", ID: "executeAction", Summary: "Approve and run an action",
			Tag: "Healer", Request: healer.ExecuteRequest{}, Response: AttemptResponse{},
			ErrorStatus: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable}},
		{Method: http.MethodPost, Path: "/api/v1/faults", ID: "enqueueFault", Summary: "Report a fault for the next cycle",
			Tag: "Faults", Request: domain.Fault{}, Response: FaultAcceptedResponse{}, Status: http.StatusAccepted,
			ErrorStatus: []int{http.StatusBadRequest, http.StatusNotImplemented}},
	}
	for _, op := range ops {
		h.openapi.Register(op)
	}
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	checks := make(map[string]string)
	ready := true

	if h.healer.Running() {
		checks["healer"] = "ok"
	} else {
		checks["healer"] = "stopped"
		ready = false
	}

	if h.docker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := h.docker.Ping(ctx); err != nil {
			checks["docker"] = "failed"
			ready = false
		} else {
			checks["docker"] = "ok"
		}
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Checks: checks})
		return
	}
	h.writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Checks: checks})
}

// =============================================================================
// Healer Handlers
// =============================================================================

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.healer.GetStatus())
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IsEmpty() {
		h.writeError(w, http.StatusBadRequest, "no configuration fields given", "validation_error")
		return
	}

	cfg, err := h.healer.UpdateConfig(req)
	if err != nil {
		h.writeHealerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, configToResponse(cfg))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := DefaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer", "validation_error")
			return
		}
		limit = min(n, MaxHistoryLimit)
	}

	status := domain.AttemptStatus(q.Get("status"))
	if status != "" && !status.IsTerminal() {
		h.writeError(w, http.StatusBadRequest, "unknown status "+string(status), "validation_error")
		return
	}

	switch source := q.Get("source"); source {
	case "", "memory":
		attempts := h.healer.GetHistory(0)
		out := make([]domain.HealingAttempt, 0, min(limit, len(attempts)))
		for _, a := range attempts {
			if len(out) == limit {
				break
			}
			if status == "" || a.Status == status {
				out = append(out, a)
			}
		}
		h.writeJSON(w, http.StatusOK, HistoryResponse{Attempts: out, Count: len(out), Limit: limit, Source: "memory"})

	case "archive":
		if h.archive == nil {
			h.writeError(w, http.StatusBadRequest, "archive is not enabled", "archive_disabled")
			return
		}
		attempts, err := h.archive.ListAttempts(r.Context(), store.ListOptions{
			Limit:     limit,
			Status:    status,
			Signature: q.Get("signature"),
		})
		if err != nil {
			h.logger.Error("failed to list archived attempts", "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to read archive", "internal_error")
			return
		}
		if attempts == nil {
			attempts = []domain.HealingAttempt{}
		}
		h.writeJSON(w, http.StatusOK, HistoryResponse{Attempts: attempts, Count: len(attempts), Limit: limit, Source: "archive"})

	default:
		h.writeError(w, http.StatusBadRequest, "source must be memory or archive", "validation_error")
	}
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.healer.GetStatistics())
}

func (h *Handler) handleHeal(w http.ResponseWriter, r *http.Request) {
	var req HealRequest
	if !h.decode(w, r, &req) {
		return
	}

	attempt, err := h.healer.ManualHeal(r.Context(), req)
	if err != nil {
		h.writeHealerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AttemptResponse{Attempt: attempt})
}

func (h *Handler) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req healer.ExecuteRequest
	if !h.decode(w, r, &req) {
		return
	}

	attempt, err := h.healer.ExecuteAction(r.Context(), req)
	if err != nil {
		h.writeHealerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AttemptResponse{Attempt: attempt})
}

func (h *Handler) handleEnqueueFault(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		h.writeError(w, http.StatusNotImplemented, "fault ingestion is not enabled", "not_enabled")
		return
	}

	var f domain.Fault
	if !h.decode(w, r, &f) {
		return
	}
	if err := h.queue.Push(f); err != nil {
		if errors.Is(err, faults.ErrInvalidFault) {
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
			return
		}
		h.logger.Error("failed to queue fault", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to queue fault", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusAccepted, FaultAcceptedResponse{
		Queued:    true,
		Signature: f.Signature(),
		QueueSize: h.queue.Len(),
	})
}

// =============================================================================
// Helpers
// =============================================================================

// decode reads a JSON body into v, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "validation_error")
		return false
	}
	return true
}

// writeHealerError maps orchestrator errors onto HTTP statuses.
func (h *Handler) writeHealerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, healer.ErrNotRunning):
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), "not_running")
	case errors.Is(err, healer.ErrInvalidConfig), errors.Is(err, healer.ErrInvalidFault), errors.Is(err, healer.ErrNoAction):
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
	case errors.Is(err, healer.ErrRateLimited):
		h.writeError(w, http.StatusConflict, err.Error(), "rate_limited")
	case errors.Is(err, healer.ErrStaleFault):
		h.writeError(w, http.StatusConflict, err.Error(), "stale_fault")
	case errors.Is(err, healer.ErrAttemptNotFound):
		h.writeError(w, http.StatusNotFound, err.Error(), "attempt_not_found")
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error", "internal_error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
