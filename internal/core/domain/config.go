package domain

import "time"

// =============================================================================
// Healer Configuration
// =============================================================================

// Bounds for the runtime-mutable configuration.
const (
	MinHealingAttempts = 1
	MaxHealingAttempts = 10

	MinMonitoringInterval = 10 * time.Second
	MaxMonitoringInterval = 3600 * time.Second
)

// HealerConfig is the runtime-mutable configuration owned by the orchestrator.
type HealerConfig struct {
	Enabled            bool
	AutoExecute        bool
	MaxHealingAttempts int
	MonitoringInterval time.Duration
}

// DefaultHealerConfig returns conservative defaults: enabled, approval
// required, three attempts per fault, one minute interval.
func DefaultHealerConfig() HealerConfig {
	return HealerConfig{
		Enabled:            true,
		AutoExecute:        false,
		MaxHealingAttempts: 3,
		MonitoringInterval: 60 * time.Second,
	}
}

// ConfigUpdate is a partial update. Nil fields are left unchanged.
type ConfigUpdate struct {
	Enabled                   *bool `json:"enabled,omitempty"`
	AutoExecute               *bool `json:"auto_execute,omitempty"`
	MaxHealingAttempts        *int  `json:"max_healing_attempts,omitempty"`
	MonitoringIntervalSeconds *int  `json:"monitoring_interval_seconds,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u ConfigUpdate) IsEmpty() bool {
	return u.Enabled == nil && u.AutoExecute == nil &&
		u.MaxHealingAttempts == nil && u.MonitoringIntervalSeconds == nil
}

// Apply returns c with the non-nil fields of u applied. It does not validate.
func (c HealerConfig) Apply(u ConfigUpdate) HealerConfig {
	if u.Enabled != nil {
		c.Enabled = *u.Enabled
	}
	if u.AutoExecute != nil {
		c.AutoExecute = *u.AutoExecute
	}
	if u.MaxHealingAttempts != nil {
		c.MaxHealingAttempts = *u.MaxHealingAttempts
	}
	if u.MonitoringIntervalSeconds != nil {
		c.MonitoringInterval = time.Duration(*u.MonitoringIntervalSeconds) * time.Second
	}
	return c
}
