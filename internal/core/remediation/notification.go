package remediation

import (
	"fmt"

	"github.com/artpar/healer/internal/core/domain"
)

// =============================================================================
// Notification Text
// =============================================================================

// Message is a notification ready for a sink.
type Message struct {
	Title    string
	Severity string
	Details  map[string]string
}

// Started describes an attempt that is about to act.
func Started(a domain.HealingAttempt) Message {
	return Message{
		Title:    "Healing started: " + subject(a.Fault),
		Severity: string(a.Fault.Severity),
		Details:  baseDetails(a),
	}
}

// Outcome describes a finished attempt. Attempts that ended without action
// map to an informational message.
func Outcome(a domain.HealingAttempt) Message {
	d := baseDetails(a)
	sev := string(a.Fault.Severity)

	var title string
	switch a.Status {
	case domain.StatusHealed:
		title = "Healed: " + subject(a.Fault)
		sev = "info"
	case domain.StatusFailedVerification:
		title = "Healing not verified: " + subject(a.Fault)
	case domain.StatusFailed:
		title = "Healing failed: " + subject(a.Fault)
	case domain.StatusException:
		title = "Healing error: " + subject(a.Fault)
	case domain.StatusPendingApproval:
		title = "Approval required: " + subject(a.Fault)
		sev = "info"
	default:
		title = fmt.Sprintf("Healing %s: %s", a.Status, subject(a.Fault))
		sev = "info"
	}

	if n := len(a.ActionsTaken); n > 0 {
		last := a.ActionsTaken[n-1]
		d["action"] = last.Spec().String()
		if last.Error != "" {
			d["action_error"] = last.Error
		}
	}
	if a.Verification != nil {
		d["verification"] = a.Verification.Details
	}
	if a.ManualInstructions != "" {
		d["manual_instructions"] = a.ManualInstructions
	}
	if a.ErrorMessage != "" {
		d["error"] = a.ErrorMessage
	}
	return Message{Title: title, Severity: sev, Details: d}
}

func subject(f domain.Fault) string {
	if f.Service != "" {
		return string(f.Type) + " on " + f.Service
	}
	return string(f.Type)
}

func baseDetails(a domain.HealingAttempt) map[string]string {
	d := map[string]string{
		"attempt_id": a.ID,
		"signature":  a.FaultSignature,
		"status":     string(a.Status),
		"message":    a.Fault.Message,
	}
	if a.Analysis != nil {
		d["root_cause"] = a.Analysis.RootCause
		d["confidence"] = fmt.Sprintf("%.2f", a.Analysis.Confidence)
	}
	return d
}
