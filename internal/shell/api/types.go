package api

import (
	"github.com/artpar/healer/internal/core/domain"
)

// =============================================================================
// Request Types
// =============================================================================

// ConfigUpdateRequest is the request body for a partial config update.
type ConfigUpdateRequest = domain.ConfigUpdate

// HealRequest is the request body for a manual heal: the fault to heal.
type HealRequest = domain.Fault

// =============================================================================
// Response Types
// =============================================================================

// ConfigResponse is the runtime configuration.
type ConfigResponse struct {
	Enabled                   bool `json:"enabled"`
	AutoExecute               bool `json:"auto_execute"`
	MaxHealingAttempts        int  `json:"max_healing_attempts"`
	MonitoringIntervalSeconds int  `json:"monitoring_interval_seconds"`
}

// HistoryResponse is the response for listing attempts.
type HistoryResponse struct {
	Attempts []domain.HealingAttempt `json:"attempts"`
	Count    int                     `json:"count"`
	Limit    int                     `json:"limit"`
	Source   string                  `json:"source"`
}

// AttemptResponse wraps a single attempt.
type AttemptResponse struct {
	Attempt domain.HealingAttempt `json:"attempt"`
}

// FaultAcceptedResponse is returned when a fault is queued.
type FaultAcceptedResponse struct {
	Queued    bool   `json:"queued"`
	Signature string `json:"signature"`
	QueueSize int    `json:"queue_size"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func configToResponse(c domain.HealerConfig) ConfigResponse {
	return ConfigResponse{
		Enabled:                   c.Enabled,
		AutoExecute:               c.AutoExecute,
		MaxHealingAttempts:        c.MaxHealingAttempts,
		MonitoringIntervalSeconds: int(c.MonitoringInterval.Seconds()),
	}
}
