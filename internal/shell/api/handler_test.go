package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/shell/faults"
	"github.com/artpar/healer/internal/shell/healer"
	"github.com/artpar/healer/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

// stubHealer implements Healer for testing.
type stubHealer struct {
	running  bool
	cfg      domain.HealerConfig
	history  []domain.HealingAttempt
	err      error // returned by mutating operations when set
	lastHeal domain.Fault
	lastExec healer.ExecuteRequest
}

func newStubHealer() *stubHealer {
	return &stubHealer{running: true, cfg: domain.DefaultHealerConfig()}
}

func (s *stubHealer) Running() bool { return s.running }

func (s *stubHealer) GetStatus() healer.Status {
	return healer.Status{
		Running:                   s.running,
		Enabled:                   s.cfg.Enabled,
		AutoExecute:               s.cfg.AutoExecute,
		MaxHealingAttempts:        s.cfg.MaxHealingAttempts,
		MonitoringIntervalSeconds: int(s.cfg.MonitoringInterval.Seconds()),
		Analyzer:                  "none",
	}
}

func (s *stubHealer) UpdateConfig(u domain.ConfigUpdate) (domain.HealerConfig, error) {
	if s.err != nil {
		return domain.HealerConfig{}, s.err
	}
	s.cfg = s.cfg.Apply(u)
	return s.cfg, nil
}

func (s *stubHealer) GetHistory(limit int) []domain.HealingAttempt {
	if limit > 0 && limit < len(s.history) {
		return s.history[:limit]
	}
	return s.history
}

func (s *stubHealer) GetStatistics() domain.Statistics {
	return domain.Statistics{Total: len(s.history)}
}

func (s *stubHealer) ManualHeal(_ context.Context, f domain.Fault) (domain.HealingAttempt, error) {
	s.lastHeal = f
	if s.err != nil {
		return domain.HealingAttempt{}, s.err
	}
	a := domain.NewHealingAttempt(f, domain.TriggerManual)
	a.Status = domain.StatusHealed
	return *a, nil
}

func (s *stubHealer) ExecuteAction(_ context.Context, req healer.ExecuteRequest) (domain.HealingAttempt, error) {
	s.lastExec = req
	if s.err != nil {
		return domain.HealingAttempt{}, s.err
	}
	a := domain.NewHealingAttempt(domain.NewFault(domain.FaultServiceCrash, "nginx", domain.SeverityHigh, "exited"), domain.TriggerApproval)
	a.Status = domain.StatusHealed
	return *a, nil
}

type stubArchive struct {
	attempts []domain.HealingAttempt
	lastOpts store.ListOptions
	err      error
}

func (s *stubArchive) ListAttempts(_ context.Context, opts store.ListOptions) ([]domain.HealingAttempt, error) {
	s.lastOpts = opts
	return s.attempts, s.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func attemptWithStatus(status domain.AttemptStatus, service string) domain.HealingAttempt {
	a := domain.NewHealingAttempt(domain.NewFault(domain.FaultServiceCrash, service, domain.SeverityHigh, "exited"), domain.TriggerLoop)
	a.Status = status
	return *a
}

func newTestHandler(cfg Config) http.Handler {
	if cfg.Healer == nil {
		cfg.Healer = newStubHealer()
	}
	return NewHandler(cfg).Routes()
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// Health Tests
// =============================================================================

func TestHealth(t *testing.T) {
	h := newTestHandler(Config{})

	rec := doRequest(t, h, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody[HealthResponse](t, rec).Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		h := newTestHandler(Config{Docker: stubPinger{}})

		rec := doRequest(t, h, http.MethodGet, "/ready", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody[ReadyResponse](t, rec)
		assert.Equal(t, "ready", resp.Status)
		assert.Equal(t, "ok", resp.Checks["docker"])
		assert.Equal(t, "ok", resp.Checks["healer"])
	})

	t.Run("docker down", func(t *testing.T) {
		h := newTestHandler(Config{Docker: stubPinger{err: errors.New("connection refused")}})

		rec := doRequest(t, h, http.MethodGet, "/ready", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		resp := decodeBody[ReadyResponse](t, rec)
		assert.Equal(t, "not_ready", resp.Status)
		assert.Equal(t, "failed", resp.Checks["docker"])
	})

	t.Run("healer stopped", func(t *testing.T) {
		sh := newStubHealer()
		sh.running = false
		h := newTestHandler(Config{Healer: sh})

		rec := doRequest(t, h, http.MethodGet, "/ready", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "stopped", decodeBody[ReadyResponse](t, rec).Checks["healer"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "healer_attempts_total 1\n")
	})

	rec := doRequest(t, newTestHandler(Config{Metrics: metrics}), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healer_attempts_total")

	rec = doRequest(t, newTestHandler(Config{}), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Status and Config Tests
// =============================================================================

func TestStatus(t *testing.T) {
	h := newTestHandler(Config{})

	rec := doRequest(t, h, http.MethodGet, "/api/v1/status", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	status := decodeBody[healer.Status](t, rec)
	assert.True(t, status.Running)
	assert.Equal(t, "none", status.Analyzer)
}

func TestUpdateConfig(t *testing.T) {
	sh := newStubHealer()
	h := newTestHandler(Config{Healer: sh})

	rec := doRequest(t, h, http.MethodPut, "/api/v1/config", map[string]any{
		"auto_execute":                false,
		"monitoring_interval_seconds": 60,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[ConfigResponse](t, rec)
	assert.False(t, resp.AutoExecute)
	assert.Equal(t, 60, resp.MonitoringIntervalSeconds)
	assert.Equal(t, time.Minute, sh.cfg.MonitoringInterval)
}

func TestUpdateConfig_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		err        error
		wantStatus int
		wantCode   string
	}{
		{"malformed json", "{", nil, http.StatusBadRequest, "validation_error"},
		{"unknown field", `{"bogus": 1}`, nil, http.StatusBadRequest, "validation_error"},
		{"empty update", `{}`, nil, http.StatusBadRequest, "validation_error"},
		{"invalid value", map[string]any{"max_healing_attempts": 0},
			healer.NewHealerError("UpdateConfig", "max_healing_attempts", "must be at least 1", healer.ErrInvalidConfig),
			http.StatusBadRequest, "validation_error"},
		{"not running", map[string]any{"enabled": false}, healer.ErrNotRunning,
			http.StatusServiceUnavailable, "not_running"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sh := newStubHealer()
			sh.err = tc.err
			h := newTestHandler(Config{Healer: sh})

			rec := doRequest(t, h, http.MethodPut, "/api/v1/config", tc.body)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantCode, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

// =============================================================================
// History Tests
// =============================================================================

func TestHistory_Memory(t *testing.T) {
	sh := newStubHealer()
	sh.history = []domain.HealingAttempt{
		attemptWithStatus(domain.StatusHealed, "a"),
		attemptWithStatus(domain.StatusFailed, "b"),
		attemptWithStatus(domain.StatusHealed, "c"),
	}
	h := newTestHandler(Config{Healer: sh})

	rec := doRequest(t, h, http.MethodGet, "/api/v1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[HistoryResponse](t, rec)
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, DefaultHistoryLimit, resp.Limit)
	assert.Equal(t, "memory", resp.Source)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/history?limit=1&status=healed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody[HistoryResponse](t, rec)
	require.Len(t, resp.Attempts, 1)
	assert.Equal(t, "a", resp.Attempts[0].Fault.Service)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/history?status=failed", nil)
	resp = decodeBody[HistoryResponse](t, rec)
	require.Len(t, resp.Attempts, 1)
	assert.Equal(t, "b", resp.Attempts[0].Fault.Service)
}

func TestHistory_EmptyIsArray(t *testing.T) {
	rec := doRequest(t, newTestHandler(Config{}), http.MethodGet, "/api/v1/history", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"attempts":[]`)
}

func TestHistory_Archive(t *testing.T) {
	archive := &stubArchive{attempts: []domain.HealingAttempt{attemptWithStatus(domain.StatusFailed, "db")}}
	h := newTestHandler(Config{Archive: archive})

	rec := doRequest(t, h, http.MethodGet, "/api/v1/history?source=archive&limit=5&status=failed&signature=abc", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[HistoryResponse](t, rec)
	assert.Equal(t, "archive", resp.Source)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, store.ListOptions{Limit: 5, Status: domain.StatusFailed, Signature: "abc"}, archive.lastOpts)
}

func TestHistory_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		archive    Archive
		wantStatus int
	}{
		{"bad limit", "limit=abc", nil, http.StatusBadRequest},
		{"zero limit", "limit=0", nil, http.StatusBadRequest},
		{"non-terminal status", "status=executing", nil, http.StatusBadRequest},
		{"unknown source", "source=disk", nil, http.StatusBadRequest},
		{"archive disabled", "source=archive", nil, http.StatusBadRequest},
		{"archive failure", "source=archive", &stubArchive{err: errors.New("disk I/O error")}, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(Config{Archive: tc.archive})

			rec := doRequest(t, h, http.MethodGet, "/api/v1/history?"+tc.query, nil)

			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestHistory_LimitClamped(t *testing.T) {
	rec := doRequest(t, newTestHandler(Config{}), http.MethodGet, "/api/v1/history?limit=999999", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MaxHistoryLimit, decodeBody[HistoryResponse](t, rec).Limit)
}

func TestStatistics(t *testing.T) {
	sh := newStubHealer()
	sh.history = []domain.HealingAttempt{attemptWithStatus(domain.StatusHealed, "a")}

	rec := doRequest(t, newTestHandler(Config{Healer: sh}), http.MethodGet, "/api/v1/statistics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[domain.Statistics](t, rec).Total)
}

// =============================================================================
// Heal and Execute Tests
// =============================================================================

func TestHeal(t *testing.T) {
	sh := newStubHealer()
	h := newTestHandler(Config{Healer: sh})

	rec := doRequest(t, h, http.MethodPost, "/api/v1/heal", map[string]any{
		"type":     "service_crash",
		"service":  "nginx",
		"severity": "high",
		"message":  "container exited with code 137",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[AttemptResponse](t, rec)
	assert.Equal(t, domain.StatusHealed, resp.Attempt.Status)
	assert.Equal(t, domain.TriggerManual, resp.Attempt.Trigger)
	assert.Equal(t, "nginx", sh.lastHeal.Service)
}

func TestHeal_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not running", healer.ErrNotRunning, http.StatusServiceUnavailable, "not_running"},
		{"invalid fault", fmt.Errorf("%w: unknown type", healer.ErrInvalidFault), http.StatusBadRequest, "validation_error"},
		{"rate limited", healer.ErrRateLimited, http.StatusConflict, "rate_limited"},
		{"stale", healer.ErrStaleFault, http.StatusConflict, "stale_fault"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sh := newStubHealer()
			sh.err = tc.err
			h := newTestHandler(Config{Healer: sh})

			rec := doRequest(t, h, http.MethodPost, "/api/v1/heal", map[string]any{
				"type": "service_crash", "service": "nginx", "severity": "high", "message": "exited",
			})

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantCode, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestHeal_InternalErrorNotLeaked(t *testing.T) {
	sh := newStubHealer()
	sh.err = errors.New("docker socket /var/run/docker.sock unreachable")
	h := newTestHandler(Config{Healer: sh})

	rec := doRequest(t, h, http.MethodPost, "/api/v1/heal", map[string]any{
		"type": "service_crash", "severity": "high", "message": "exited",
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "docker.sock")
}

func TestExecuteAction(t *testing.T) {
	sh := newStubHealer()
	h := newTestHandler(Config{Healer: sh})

	rec := doRequest(t, h, http.MethodPost, "/api/v1/actions/execute", map[string]any{
		"attempt_id": "abc-123",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "abc-123", sh.lastExec.AttemptID)
	assert.Equal(t, domain.TriggerApproval, decodeBody[AttemptResponse](t, rec).Attempt.Trigger)
}

func TestExecuteAction_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", healer.ErrAttemptNotFound, http.StatusNotFound},
		{"no action", healer.ErrNoAction, http.StatusBadRequest},
		{"rate limited", healer.ErrRateLimited, http.StatusConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sh := newStubHealer()
			sh.err = tc.err
			h := newTestHandler(Config{Healer: sh})

			rec := doRequest(t, h, http.MethodPost, "/api/v1/actions/execute", map[string]any{"attempt_id": "x"})

			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

// =============================================================================
// Fault Ingestion Tests
// =============================================================================

func TestEnqueueFault(t *testing.T) {
	queue := faults.NewQueue(10)
	h := newTestHandler(Config{Queue: queue})

	f := domain.NewFault(domain.FaultLogError, "api", domain.SeverityMedium, "connection reset by peer")
	rec := doRequest(t, h, http.MethodPost, "/api/v1/faults", f)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decodeBody[FaultAcceptedResponse](t, rec)
	assert.True(t, resp.Queued)
	assert.Equal(t, f.Signature(), resp.Signature)
	assert.Equal(t, 1, resp.QueueSize)
	assert.Equal(t, 1, queue.Len())
}

func TestEnqueueFault_Invalid(t *testing.T) {
	queue := faults.NewQueue(10)
	h := newTestHandler(Config{Queue: queue})

	rec := doRequest(t, h, http.MethodPost, "/api/v1/faults", map[string]any{
		"type": "meteor_strike", "severity": "high", "message": "x",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, queue.Len())
}

func TestEnqueueFault_Disabled(t *testing.T) {
	rec := doRequest(t, newTestHandler(Config{}), http.MethodPost, "/api/v1/faults", map[string]any{
		"type": "log_error", "severity": "high", "message": "x",
	})

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

// =============================================================================
// Auth and OpenAPI Tests
// =============================================================================

func TestAuth(t *testing.T) {
	h := newTestHandler(Config{Token: "s3cret"})

	assert.Equal(t, http.StatusUnauthorized, doRequest(t, h, http.MethodGet, "/api/v1/status", nil).Code)
	assert.Equal(t, http.StatusForbidden,
		doRequest(t, h, http.MethodGet, "/api/v1/status", nil, "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK,
		doRequest(t, h, http.MethodGet, "/api/v1/status", nil, "Authorization", "Bearer s3cret").Code)

	// Probes and the API description stay open.
	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodGet, "/api/v1/openapi.json", nil).Code)
}

func TestOpenAPI(t *testing.T) {
	rec := doRequest(t, newTestHandler(Config{Version: "1.2.3"}), http.MethodGet, "/api/v1/openapi.json", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeBody[map[string]any](t, rec)
	info := doc["info"].(map[string]any)
	assert.Equal(t, "1.2.3", info["version"])

	paths := doc["paths"].(map[string]any)
	for _, p := range []string{
		"/health", "/ready", "/api/v1/status", "/api/v1/config", "/api/v1/history",
		"/api/v1/statistics", "/api/v1/heal", "/api/v1/actions/execute", "/api/v1/faults",
	} {
		assert.Contains(t, paths, p)
	}
}
