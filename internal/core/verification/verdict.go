// Package verification decides whether a remediation resolved a fault.
// Following the functional core rule, this package contains NO I/O: the
// shell samples state and hands it here for a verdict.
package verification

import (
	"fmt"
	"time"

	"github.com/artpar/healer/internal/core/domain"
)

// =============================================================================
// Thresholds
// =============================================================================

// Thresholds are resource ceilings in percent.
type Thresholds struct {
	CPU    float64 `mapstructure:"cpu" json:"cpu"`
	Memory float64 `mapstructure:"memory" json:"memory"`
	Disk   float64 `mapstructure:"disk" json:"disk"`
}

// DefaultThresholds are the post-action safety ceilings. A resource is
// considered recovered only when it sits below them.
func DefaultThresholds() Thresholds {
	return Thresholds{CPU: 90, Memory: 95, Disk: 90}
}

// DefaultAlertThresholds are the ceilings that raise resource faults. They
// sit strictly above DefaultThresholds so a recovered resource does not
// immediately alert again.
func DefaultAlertThresholds() Thresholds {
	return Thresholds{CPU: 95, Memory: 97, Disk: 95}
}

// Below reports whether every value is strictly below the matching value of
// other.
func (t Thresholds) Below(other Thresholds) bool {
	return t.CPU < other.CPU && t.Memory < other.Memory && t.Disk < other.Disk
}

// For returns the threshold and sampled value that apply to a resource
// fault type. ok is false for non-resource types.
func (t Thresholds) For(faultType domain.FaultType, s domain.ResourceSnapshot) (value, limit float64, ok bool) {
	switch faultType {
	case domain.FaultCPUExhaustion:
		return s.CPUPercent, t.CPU, true
	case domain.FaultMemoryExhaustion:
		return s.MemoryPercent, t.Memory, true
	case domain.FaultDiskFull:
		return s.DiskPercent, t.Disk, true
	}
	return 0, 0, false
}

// =============================================================================
// Method Selection
// =============================================================================

// MethodFor picks how a fault is verified after spec was executed.
//
// Service crashes check the container, resource faults re-sample the
// metric, network faults dial the port. Log errors are checked against the
// target of the action where one exists, and otherwise by looking for the
// error recurring.
func MethodFor(f domain.Fault, spec domain.ActionSpec) string {
	switch f.Type {
	case domain.FaultServiceCrash:
		return domain.VerifyContainerCheck
	case domain.FaultCPUExhaustion, domain.FaultMemoryExhaustion, domain.FaultDiskFull:
		return domain.VerifyResourceCheck
	case domain.FaultNetworkIssue:
		return domain.VerifyPortCheck
	}
	switch spec.Type {
	case domain.ActionRestartService:
		return domain.VerifyServiceCheck
	case domain.ActionFixPermissions:
		return domain.VerifyPathCheck
	}
	return domain.VerifyLogCheck
}

// =============================================================================
// Verdicts (Pure Functions)
// =============================================================================

// CheckError is the verdict when the check itself could not be carried
// out. It is always a failure.
func CheckError(method string, err error, now time.Time) domain.VerificationResult {
	return domain.VerificationResult{
		Success:   false,
		Method:    method,
		Details:   fmt.Sprintf("verification error: %v", err),
		CheckedAt: now,
	}
}

// ContainerState is what the runtime reports about a container.
type ContainerState struct {
	Name    string
	Running bool
	Status  string  // running, exited, restarting, ...
	Health  *string // Docker health check result if configured
}

// Container succeeds iff the container is running and its health check, if
// any, is not failing.
func Container(state ContainerState, now time.Time) domain.VerificationResult {
	r := domain.VerificationResult{Method: domain.VerifyContainerCheck, CheckedAt: now}
	switch {
	case !state.Running:
		status := state.Status
		if status == "" {
			status = "not running"
		}
		r.Details = fmt.Sprintf("container %s is %s", state.Name, status)
	case state.Health != nil && *state.Health == "unhealthy":
		r.Details = fmt.Sprintf("container %s is running but unhealthy", state.Name)
	default:
		r.Success = true
		r.Details = fmt.Sprintf("container %s is running", state.Name)
	}
	return r
}

// Resource succeeds iff the sampled metric for the fault's resource is
// strictly below its safety threshold.
func Resource(faultType domain.FaultType, s domain.ResourceSnapshot, t Thresholds, now time.Time) domain.VerificationResult {
	value, limit, ok := t.For(faultType, s)
	if !ok {
		return CheckError(domain.VerifyResourceCheck,
			fmt.Errorf("no resource metric for fault type %q", faultType), now)
	}
	r := domain.VerificationResult{Method: domain.VerifyResourceCheck, CheckedAt: now}
	r.Success = value < limit
	if r.Success {
		r.Details = fmt.Sprintf("%s at %.1f%%, below %.0f%%", resourceName(faultType), value, limit)
	} else {
		r.Details = fmt.Sprintf("%s still at %.1f%%, threshold %.0f%%", resourceName(faultType), value, limit)
	}
	return r
}

func resourceName(t domain.FaultType) string {
	switch t {
	case domain.FaultCPUExhaustion:
		return "cpu"
	case domain.FaultMemoryExhaustion:
		return "memory"
	case domain.FaultDiskFull:
		return "disk"
	}
	return string(t)
}

// Port turns the outcome of a TCP dial into a verdict. A refused or timed
// out dial is a confirmed failure, not a check error.
func Port(addr string, dialErr error, now time.Time) domain.VerificationResult {
	r := domain.VerificationResult{Method: domain.VerifyPortCheck, CheckedAt: now}
	if dialErr != nil {
		r.Details = fmt.Sprintf("%s unreachable: %v", addr, dialErr)
		return r
	}
	r.Success = true
	r.Details = fmt.Sprintf("%s accepted a connection", addr)
	return r
}

// Service succeeds iff the unit reports active.
func Service(name, activeState string, now time.Time) domain.VerificationResult {
	return domain.VerificationResult{
		Success:   activeState == "active",
		Method:    domain.VerifyServiceCheck,
		Details:   fmt.Sprintf("service %s is %s", name, activeState),
		CheckedAt: now,
	}
}

// Path succeeds iff the path is accessible with the expected permissions.
func Path(path string, accessible bool, now time.Time) domain.VerificationResult {
	r := domain.VerificationResult{Method: domain.VerifyPathCheck, CheckedAt: now, Success: accessible}
	if accessible {
		r.Details = fmt.Sprintf("%s is accessible", path)
	} else {
		r.Details = fmt.Sprintf("%s is still not accessible", path)
	}
	return r
}

// Recurrence succeeds iff the error has not been seen again since the
// action ran.
func Recurrence(recurrences int, now time.Time) domain.VerificationResult {
	r := domain.VerificationResult{Method: domain.VerifyLogCheck, CheckedAt: now}
	if recurrences > 0 {
		r.Details = fmt.Sprintf("error recurred %d time(s) after remediation", recurrences)
		return r
	}
	r.Success = true
	r.Details = "error has not recurred"
	return r
}
