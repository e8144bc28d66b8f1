package validation

import (
	"fmt"
	"time"

	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/verification"
)

// =============================================================================
// Runtime Config Validation
// =============================================================================

// ValidateConfigUpdate bounds-checks the fields present in u.
// Returns the field name and error message if validation fails.
// Returns empty strings if all fields are valid.
//
// Example:
//
//	interval := 5
//	field, msg := ValidateConfigUpdate(domain.ConfigUpdate{MonitoringIntervalSeconds: &interval})
//	// field == "monitoring_interval_seconds"
func ValidateConfigUpdate(u domain.ConfigUpdate) (field, message string) {
	if u.MaxHealingAttempts != nil {
		n := *u.MaxHealingAttempts
		if n < domain.MinHealingAttempts || n > domain.MaxHealingAttempts {
			return "max_healing_attempts", fmt.Sprintf("max_healing_attempts must be between %d and %d, got %d",
				domain.MinHealingAttempts, domain.MaxHealingAttempts, n)
		}
	}
	if u.MonitoringIntervalSeconds != nil {
		d := time.Duration(*u.MonitoringIntervalSeconds) * time.Second
		if d < domain.MinMonitoringInterval || d > domain.MaxMonitoringInterval {
			return "monitoring_interval_seconds", fmt.Sprintf("monitoring_interval_seconds must be between %d and %d, got %d",
				int(domain.MinMonitoringInterval.Seconds()), int(domain.MaxMonitoringInterval.Seconds()), *u.MonitoringIntervalSeconds)
		}
	}
	return "", ""
}

// ValidateHealerConfig checks a complete config, as loaded at startup.
func ValidateHealerConfig(c domain.HealerConfig) (field, message string) {
	attempts := c.MaxHealingAttempts
	seconds := int(c.MonitoringInterval / time.Second)
	if c.MonitoringInterval%time.Second != 0 {
		return "monitoring_interval", "monitoring_interval must be a whole number of seconds"
	}
	return ValidateConfigUpdate(domain.ConfigUpdate{
		MaxHealingAttempts:        &attempts,
		MonitoringIntervalSeconds: &seconds,
	})
}

// ValidateThresholds checks that every alerting threshold is within
// (0, 100] and strictly above its verification threshold.
func ValidateThresholds(verify, alert verification.Thresholds) (field, message string) {
	checks := []struct {
		name          string
		verify, alert float64
	}{
		{"cpu", verify.CPU, alert.CPU},
		{"memory", verify.Memory, alert.Memory},
		{"disk", verify.Disk, alert.Disk},
	}
	for _, c := range checks {
		if c.verify <= 0 || c.verify > 100 || c.alert <= 0 || c.alert > 100 {
			return "thresholds." + c.name, c.name + " thresholds must be within (0, 100]"
		}
		if c.alert <= c.verify {
			return "thresholds." + c.name, fmt.Sprintf("%s alert threshold %.0f must be above verification threshold %.0f",
				c.name, c.alert, c.verify)
		}
	}
	return "", ""
}
