// Package domain contains the core domain types for the healer.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Fault Errors
// =============================================================================

var (
	ErrInvalidFaultType = errors.New("invalid fault type")
	ErrInvalidSeverity  = errors.New("invalid severity")
	ErrEmptyMessage     = errors.New("fault message is required")
)

// =============================================================================
// Fault Type
// =============================================================================

// FaultType classifies a detected problem.
type FaultType string

const (
	FaultServiceCrash     FaultType = "service_crash"
	FaultCPUExhaustion    FaultType = "cpu_exhaustion"
	FaultMemoryExhaustion FaultType = "memory_exhaustion"
	FaultDiskFull         FaultType = "disk_full"
	FaultNetworkIssue     FaultType = "network_issue"
	FaultLogError         FaultType = "log_error"
)

// Valid reports whether t is a known fault type.
func (t FaultType) Valid() bool {
	switch t {
	case FaultServiceCrash, FaultCPUExhaustion, FaultMemoryExhaustion,
		FaultDiskFull, FaultNetworkIssue, FaultLogError:
		return true
	}
	return false
}

// IsResource reports whether t is one of the resource exhaustion types.
func (t FaultType) IsResource() bool {
	return t == FaultCPUExhaustion || t == FaultMemoryExhaustion || t == FaultDiskFull
}

// =============================================================================
// Severity
// =============================================================================

// Severity is the urgency of a fault.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Rank orders severities; higher is more urgent. Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// ParseSeverity maps common log level names onto a Severity.
//
// Example:
//
//	ParseSeverity("ERROR")   // SeverityHigh
//	ParseSeverity("warning") // SeverityMedium
func ParseSeverity(level string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "critical", "crit", "fatal", "emerg", "alert":
		return SeverityCritical, nil
	case "high", "error", "err":
		return SeverityHigh, nil
	case "medium", "warning", "warn":
		return SeverityMedium, nil
	case "low", "info", "notice", "debug":
		return SeverityLow, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, level)
}

// =============================================================================
// Fault
// =============================================================================

// FaultDetails carries the structured parameters some faults come with.
// Zero values mean "not provided".
type FaultDetails struct {
	RestartCount int               `json:"restart_count,omitempty"`
	ExitCode     *int              `json:"exit_code,omitempty"`
	Port         int               `json:"port,omitempty"`
	Container    string            `json:"container,omitempty"`
	Path         string            `json:"path,omitempty"`
	Value        float64           `json:"value,omitempty"`     // observed metric value, percent
	Threshold    float64           `json:"threshold,omitempty"` // alerting threshold that fired
	Extra        map[string]string `json:"extra,omitempty"`
}

// Fault is a detected problem. Faults are values; once created they are not
// modified.
type Fault struct {
	Type      FaultType    `json:"type"`
	Service   string       `json:"service,omitempty"`
	Severity  Severity     `json:"severity"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
	Details   FaultDetails `json:"details"`
}

// NewFault creates a fault stamped with the current time.
func NewFault(faultType FaultType, service string, severity Severity, message string) Fault {
	return Fault{
		Type:      faultType,
		Service:   service,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks that the fault is well formed.
func (f Fault) Validate() error {
	if !f.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFaultType, f.Type)
	}
	if !f.Severity.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSeverity, f.Severity)
	}
	if strings.TrimSpace(f.Message) == "" && f.Type == FaultLogError {
		return ErrEmptyMessage
	}
	return nil
}

// Signature returns the stable key used to recognise the same problem
// recurring: a hash of type, service and message.
func (f Fault) Signature() string {
	h := sha256.New()
	h.Write([]byte(f.Type))
	h.Write([]byte{0})
	h.Write([]byte(f.Service))
	h.Write([]byte{0})
	h.Write([]byte(f.Message))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Age returns how long ago the fault was detected. Faults without a
// timestamp are treated as brand new.
func (f Fault) Age(now time.Time) time.Duration {
	if f.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(f.Timestamp)
}

// Clone returns a deep copy of the fault.
func (f Fault) Clone() Fault {
	c := f
	if f.Details.ExitCode != nil {
		code := *f.Details.ExitCode
		c.Details.ExitCode = &code
	}
	if f.Details.Extra != nil {
		c.Details.Extra = make(map[string]string, len(f.Details.Extra))
		for k, v := range f.Details.Extra {
			c.Details.Extra[k] = v
		}
	}
	return c
}
