package validation

import (
	"strings"

	"github.com/artpar/healer/internal/core/domain"
)

// =============================================================================
// Fault Validation
// =============================================================================

// ValidateFaultFields validates a fault submitted from outside the process.
// Returns the field name and error message if validation fails.
func ValidateFaultFields(f domain.Fault) (field, message string) {
	if !f.Type.Valid() {
		return "type", "type must be one of service_crash, cpu_exhaustion, memory_exhaustion, disk_full, network_issue, log_error"
	}
	if !f.Severity.Valid() {
		return "severity", "severity must be one of critical, high, medium, low"
	}
	if f.Type == domain.FaultLogError && strings.TrimSpace(f.Message) == "" {
		return "message", "message is required for log_error faults"
	}
	if f.Type == domain.FaultServiceCrash && f.Service == "" && f.Details.Container == "" {
		return "service", "service or details.container is required for service_crash faults"
	}
	if f.Details.Port < 0 || f.Details.Port > 65535 {
		return "details.port", "details.port must be between 0 and 65535"
	}
	return "", ""
}
