package domain

import "time"

// =============================================================================
// Evidence
// =============================================================================

// MaxEvidenceLogs bounds how many log lines are attached to Evidence.
const MaxEvidenceLogs = 50

// ResourceSnapshot is a point-in-time sample of host utilisation, in percent.
type ResourceSnapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Evidence is what the orchestrator gathered about a fault before analysis.
// Every field is optional; collectors that fail simply leave theirs empty.
type Evidence struct {
	Logs         []string          `json:"logs,omitempty"`
	Resources    *ResourceSnapshot `json:"resources,omitempty"`
	RestartCount *int              `json:"restart_count,omitempty"`
}

// WithLogs returns a copy of e holding at most MaxEvidenceLogs of the most
// recent lines.
func (e Evidence) WithLogs(lines []string) Evidence {
	if len(lines) > MaxEvidenceLogs {
		lines = lines[len(lines)-MaxEvidenceLogs:]
	}
	e.Logs = append([]string(nil), lines...)
	return e
}

// =============================================================================
// Root Cause Analysis
// =============================================================================

// Placeholder values used when no rule fires or the analyzer is unavailable.
const (
	UnknownRootCause  = "Unknown cause"
	UnknownConfidence = 0.3
)

// CauseCandidate is one hypothesis produced by a rule.
type CauseCandidate struct {
	Cause      string  `json:"cause"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
}

// AIInsights records what the external text analyzer said.
type AIInsights struct {
	Provider   string  `json:"provider"`
	RootCause  string  `json:"root_cause"`
	Confidence float64 `json:"confidence"`
	Raw        string  `json:"raw,omitempty"`
}

// RootCauseAnalysis is produced once per attempt and never mutated.
type RootCauseAnalysis struct {
	RootCause           string           `json:"root_cause"`
	Confidence          float64          `json:"confidence"`
	FaultClassification string           `json:"fault_classification"`
	RecommendedActions  []string         `json:"recommended_actions"`
	Candidates          []CauseCandidate `json:"candidates,omitempty"`
	AIInsights          *AIInsights      `json:"ai_insights,omitempty"`
}

// PlaceholderAnalysis is used when the analyzer is missing or fails.
func PlaceholderAnalysis(f Fault) RootCauseAnalysis {
	return RootCauseAnalysis{
		RootCause:           UnknownRootCause,
		Confidence:          UnknownConfidence,
		FaultClassification: string(f.Type),
		RecommendedActions:  []string{},
	}
}

// =============================================================================
// Verification
// =============================================================================

// Verification methods.
const (
	VerifyContainerCheck = "container_check"
	VerifyResourceCheck  = "resource_check"
	VerifyPortCheck      = "port_check"
	VerifyServiceCheck   = "service_check"
	VerifyPathCheck      = "path_check"
	VerifyLogCheck       = "log_check"
)

// VerificationResult records whether an action actually resolved a fault.
type VerificationResult struct {
	Success   bool      `json:"success"`
	Method    string    `json:"method"`
	Details   string    `json:"details"`
	CheckedAt time.Time `json:"checked_at"`
}
