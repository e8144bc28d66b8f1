package domain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Attempt Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// Attempt Status
// =============================================================================

// AttemptStatus is the state of a healing attempt. States only move forward.
type AttemptStatus string

const (
	StatusStarted            AttemptStatus = "started"
	StatusAnalyzing          AttemptStatus = "analyzing"
	StatusNoAction           AttemptStatus = "no_action"
	StatusPendingApproval    AttemptStatus = "pending_approval"
	StatusExecuting          AttemptStatus = "executing"
	StatusHealed             AttemptStatus = "healed"
	StatusFailedVerification AttemptStatus = "failed_verification"
	StatusFailed             AttemptStatus = "failed"
	StatusException          AttemptStatus = "exception"
)

// validTransitions defines the allowed state transitions.
var validTransitions = map[AttemptStatus][]AttemptStatus{
	StatusStarted:            {StatusAnalyzing, StatusException},
	StatusAnalyzing:          {StatusNoAction, StatusPendingApproval, StatusExecuting, StatusException},
	StatusExecuting:          {StatusHealed, StatusFailedVerification, StatusFailed, StatusException},
	StatusNoAction:           {}, // Terminal
	StatusPendingApproval:    {}, // Terminal
	StatusHealed:             {}, // Terminal
	StatusFailedVerification: {}, // Terminal
	StatusFailed:             {}, // Terminal
	StatusException:          {}, // Terminal
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to AttemptStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsTerminal reports whether no further transitions are possible from s.
func (s AttemptStatus) IsTerminal() bool {
	allowed, exists := validTransitions[s]
	return exists && len(allowed) == 0
}

// TerminalStatuses lists the statuses an attempt can be recorded with.
func TerminalStatuses() []AttemptStatus {
	return []AttemptStatus{
		StatusNoAction,
		StatusPendingApproval,
		StatusHealed,
		StatusFailedVerification,
		StatusFailed,
		StatusException,
	}
}

// =============================================================================
// Healing Attempt
// =============================================================================

// Trigger records what started an attempt.
type Trigger string

const (
	TriggerLoop     Trigger = "loop"
	TriggerManual   Trigger = "manual"
	TriggerApproval Trigger = "approval"
)

// HealingAttempt is one pass through the healing pipeline for one fault.
type HealingAttempt struct {
	ID                 string              `json:"id"`
	Trigger            Trigger             `json:"trigger"`
	Fault              Fault               `json:"fault"`
	FaultSignature     string              `json:"fault_signature"`
	StartedAt          time.Time           `json:"timestamp_started"`
	FinishedAt         *time.Time          `json:"timestamp_finished,omitempty"`
	Status             AttemptStatus       `json:"status"`
	Analysis           *RootCauseAnalysis  `json:"analysis,omitempty"`
	CandidateActions   []ActionSpec        `json:"candidate_actions,omitempty"`
	ActionsTaken       []ActionResult      `json:"actions_taken"`
	Verification       *VerificationResult `json:"verification,omitempty"`
	ManualInstructions string              `json:"manual_instructions,omitempty"`
	ErrorMessage       string              `json:"error_message,omitempty"`
}

// NewHealingAttempt creates an attempt in the started state.
func NewHealingAttempt(fault Fault, trigger Trigger) *HealingAttempt {
	return &HealingAttempt{
		ID:             uuid.New().String(),
		Trigger:        trigger,
		Fault:          fault.Clone(),
		FaultSignature: fault.Signature(),
		StartedAt:      time.Now().UTC(),
		Status:         StatusStarted,
		ActionsTaken:   []ActionResult{},
	}
}

// Transition moves the attempt to a new status.
func (a *HealingAttempt) Transition(to AttemptStatus) error {
	if err := ValidateTransition(a.Status, to); err != nil {
		return err
	}
	a.Status = to
	if to.IsTerminal() {
		now := time.Now().UTC()
		a.FinishedAt = &now
	}
	return nil
}

// MarkException moves a non-terminal attempt to the exception state and
// records the message. It is a no-op on terminal attempts.
func (a *HealingAttempt) MarkException(message string) {
	if a.Status.IsTerminal() {
		return
	}
	a.ErrorMessage = message
	_ = a.Transition(StatusException)
}

// Clone returns a deep copy, so a recorded attempt cannot be changed through
// a snapshot handed out to readers.
func (a HealingAttempt) Clone() HealingAttempt {
	c := a
	c.Fault = a.Fault.Clone()
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		c.FinishedAt = &t
	}
	if a.Analysis != nil {
		an := *a.Analysis
		an.RecommendedActions = append([]string(nil), a.Analysis.RecommendedActions...)
		an.Candidates = append([]CauseCandidate(nil), a.Analysis.Candidates...)
		if a.Analysis.AIInsights != nil {
			ai := *a.Analysis.AIInsights
			an.AIInsights = &ai
		}
		c.Analysis = &an
	}
	c.CandidateActions = append([]ActionSpec(nil), a.CandidateActions...)
	c.ActionsTaken = append([]ActionResult{}, a.ActionsTaken...)
	if a.Verification != nil {
		v := *a.Verification
		c.Verification = &v
	}
	return c
}

// =============================================================================
// Statistics
// =============================================================================

// Statistics aggregates recorded attempts.
type Statistics struct {
	Total       int                   `json:"total"`
	Successful  int                   `json:"successful"`
	Failed      int                   `json:"failed"`
	Pending     int                   `json:"pending"`
	SuccessRate float64               `json:"success_rate"`
	ByStatus    map[AttemptStatus]int `json:"by_status"`
}

// ComputeStatistics counts attempts by status. Healed attempts are
// successful; failed, failed_verification and exception are failures;
// pending_approval is pending.
func ComputeStatistics(attempts []HealingAttempt) Statistics {
	stats := Statistics{
		Total:    len(attempts),
		ByStatus: make(map[AttemptStatus]int),
	}
	for _, a := range attempts {
		stats.ByStatus[a.Status]++
		switch a.Status {
		case StatusHealed:
			stats.Successful++
		case StatusFailed, StatusFailedVerification, StatusException:
			stats.Failed++
		case StatusPendingApproval:
			stats.Pending++
		}
	}
	stats.SuccessRate = SuccessRate(stats.Successful, stats.Total)
	return stats
}

// SuccessRate returns successful/total as a percentage rounded to one
// decimal place, and 0 when total is 0.
func SuccessRate(successful, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(successful)/float64(total)*1000) / 10
}
