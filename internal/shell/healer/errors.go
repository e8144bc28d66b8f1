package healer

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotRunning is returned by admin operations while the healer is
	// stopped or shutting down.
	ErrNotRunning = errors.New("healer is not running")

	// ErrAlreadyRunning is returned by Start on a running healer.
	ErrAlreadyRunning = errors.New("healer is already running")

	// ErrInvalidConfig is returned when a configuration update is out of
	// bounds. The running configuration is left unchanged.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidFault is returned for malformed manually submitted faults.
	ErrInvalidFault = errors.New("invalid fault")

	// ErrRateLimited is returned when the deduplication gate refuses a
	// manual attempt because the signature used up its attempts.
	ErrRateLimited = errors.New("too many healing attempts for this fault")

	// ErrStaleFault is returned when a manually submitted fault is older
	// than the staleness window.
	ErrStaleFault = errors.New("fault is too old to heal")

	// ErrAttemptNotFound is returned when an approval references an
	// attempt that is no longer in history.
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrNoAction is returned when an approval has no action to run.
	ErrNoAction = errors.New("no action to execute")
)

// HealerError wraps errors with additional context.
type HealerError struct {
	Op      string // Operation that failed (e.g., "UpdateConfig")
	Field   string // Offending field, if any
	Message string
	Err     error
}

func (e *HealerError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *HealerError) Unwrap() error {
	return e.Err
}

// NewHealerError creates a new HealerError.
func NewHealerError(op, field, message string, err error) *HealerError {
	return &HealerError{
		Op:      op,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
