// Package metrics exposes Prometheus instruments for the healing loop.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artpar/healer/internal/core/domain"
)

// Metrics holds the healer's instruments. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	attempts      *prometheus.CounterVec
	actions       *prometheus.CounterVec
	actionTime    *prometheus.HistogramVec
	verifications *prometheus.CounterVec
	dedupSkipped  *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	faultsSeen    prometheus.Counter
	loopRunning   prometheus.Gauge
}

// New creates the instruments on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// attempts counts recorded attempts by final status
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healer_attempts_total",
			Help: "Recorded healing attempts by final status",
		}, []string{"status"}),

		// actions counts dispatched actions by type and outcome
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healer_actions_total",
			Help: "Executed remediation actions by type and outcome",
		}, []string{"action", "success"}),

		actionTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healer_action_duration_seconds",
			Help:    "Remediation action duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"action"}),

		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healer_verifications_total",
			Help: "Post-action verifications by method and outcome",
		}, []string{"method", "success"}),

		dedupSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healer_dedup_skipped_total",
			Help: "Faults skipped by the deduplication gate by reason",
		}, []string{"reason"}),

		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "healer_tick_duration_seconds",
			Help:    "Duration of one monitoring tick in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}),

		faultsSeen: factory.NewCounter(prometheus.CounterOpts{
			Name: "healer_faults_polled_total",
			Help: "Faults returned by the fault sources",
		}),

		loopRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "healer_loop_running",
			Help: "1 while the monitoring loop is running",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// AttemptRecorded counts a recorded attempt.
func (m *Metrics) AttemptRecorded(status domain.AttemptStatus) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(status)).Inc()
}

// ActionExecuted counts an action result.
func (m *Metrics) ActionExecuted(r domain.ActionResult) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(string(r.ActionType), strconv.FormatBool(r.Success)).Inc()
	m.actionTime.WithLabelValues(string(r.ActionType)).Observe(r.Duration.Seconds())
}

// Verified counts a verification result.
func (m *Metrics) Verified(v domain.VerificationResult) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(v.Method, strconv.FormatBool(v.Success)).Inc()
}

// DedupSkipped counts a fault dropped by the gate.
func (m *Metrics) DedupSkipped(reason string) {
	if m == nil {
		return
	}
	m.dedupSkipped.WithLabelValues(reason).Inc()
}

// TickFinished observes one tick.
func (m *Metrics) TickFinished(d time.Duration, faults int) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
	m.faultsSeen.Add(float64(faults))
}

// SetRunning records whether the loop is running.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.loopRunning.Set(1)
	} else {
		m.loopRunning.Set(0)
	}
}
