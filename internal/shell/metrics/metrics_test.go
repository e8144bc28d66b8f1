package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/healer/internal/core/domain"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.AttemptRecorded(domain.StatusHealed)
	m.AttemptRecorded(domain.StatusHealed)
	m.AttemptRecorded(domain.StatusFailed)
	m.ActionExecuted(domain.ActionResult{ActionType: domain.ActionRestartContainer, Success: true, Duration: time.Second})
	m.DedupSkipped("rate_limited")
	m.Verified(domain.VerificationResult{Method: domain.VerifyContainerCheck, Success: true})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("healed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("restart_container", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dedupSkipped.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("container_check", "true")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.AttemptRecorded(domain.StatusHealed)
		m.ActionExecuted(domain.ActionResult{})
		m.Verified(domain.VerificationResult{})
		m.DedupSkipped("stale")
		m.TickFinished(time.Second, 3)
		m.SetRunning(true)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetRunning(true)
	m.TickFinished(50*time.Millisecond, 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "healer_loop_running 1")
	assert.Contains(t, string(body), "healer_faults_polled_total 2")
	assert.Contains(t, string(body), "healer_tick_duration_seconds_count 1")
	assert.Contains(t, string(body), "go_goroutines")
}
