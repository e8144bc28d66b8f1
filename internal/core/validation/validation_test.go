package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/verification"
)

func intPtr(i int) *int { return &i }

// =============================================================================
// ValidateConfigUpdate Tests
// =============================================================================

func TestValidateConfigUpdate_Empty(t *testing.T) {
	field, msg := ValidateConfigUpdate(domain.ConfigUpdate{})
	assert.Empty(t, field)
	assert.Empty(t, msg)
}

func TestValidateConfigUpdate_Bounds(t *testing.T) {
	tests := []struct {
		name      string
		update    domain.ConfigUpdate
		wantField string
	}{
		{"interval at floor", domain.ConfigUpdate{MonitoringIntervalSeconds: intPtr(10)}, ""},
		{"interval at ceiling", domain.ConfigUpdate{MonitoringIntervalSeconds: intPtr(3600)}, ""},
		{"interval below floor", domain.ConfigUpdate{MonitoringIntervalSeconds: intPtr(5)}, "monitoring_interval_seconds"},
		{"interval above ceiling", domain.ConfigUpdate{MonitoringIntervalSeconds: intPtr(3601)}, "monitoring_interval_seconds"},
		{"attempts at floor", domain.ConfigUpdate{MaxHealingAttempts: intPtr(1)}, ""},
		{"attempts at ceiling", domain.ConfigUpdate{MaxHealingAttempts: intPtr(10)}, ""},
		{"attempts zero", domain.ConfigUpdate{MaxHealingAttempts: intPtr(0)}, "max_healing_attempts"},
		{"attempts eleven", domain.ConfigUpdate{MaxHealingAttempts: intPtr(11)}, "max_healing_attempts"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			field, msg := ValidateConfigUpdate(tc.update)
			assert.Equal(t, tc.wantField, field)
			if tc.wantField != "" {
				assert.NotEmpty(t, msg)
			}
		})
	}
}

func TestValidateConfigUpdate_ChecksAttemptsFirst(t *testing.T) {
	field, _ := ValidateConfigUpdate(domain.ConfigUpdate{
		MaxHealingAttempts:        intPtr(50),
		MonitoringIntervalSeconds: intPtr(1),
	})
	assert.Equal(t, "max_healing_attempts", field)
}

func TestValidateHealerConfig(t *testing.T) {
	field, _ := ValidateHealerConfig(domain.DefaultHealerConfig())
	assert.Empty(t, field)

	cfg := domain.DefaultHealerConfig()
	cfg.MonitoringInterval = 1500 * time.Millisecond
	field, _ = ValidateHealerConfig(cfg)
	assert.Equal(t, "monitoring_interval", field)

	cfg = domain.DefaultHealerConfig()
	cfg.MaxHealingAttempts = 0
	field, _ = ValidateHealerConfig(cfg)
	assert.Equal(t, "max_healing_attempts", field)
}

// =============================================================================
// ValidateThresholds Tests
// =============================================================================

func TestValidateThresholds_Defaults(t *testing.T) {
	field, _ := ValidateThresholds(verification.DefaultThresholds(), verification.DefaultAlertThresholds())
	assert.Empty(t, field)
}

func TestValidateThresholds_AlertNotAbove(t *testing.T) {
	alert := verification.DefaultAlertThresholds()
	alert.Memory = 95

	field, msg := ValidateThresholds(verification.DefaultThresholds(), alert)

	assert.Equal(t, "thresholds.memory", field)
	assert.Contains(t, msg, "must be above")
}

func TestValidateThresholds_OutOfRange(t *testing.T) {
	alert := verification.DefaultAlertThresholds()
	alert.Disk = 120

	field, _ := ValidateThresholds(verification.DefaultThresholds(), alert)

	assert.Equal(t, "thresholds.disk", field)
}

// =============================================================================
// ValidateFaultFields Tests
// =============================================================================

func TestValidateFaultFields(t *testing.T) {
	tests := []struct {
		name      string
		fault     domain.Fault
		wantField string
	}{
		{"valid crash", domain.Fault{Type: domain.FaultServiceCrash, Service: "nginx", Severity: domain.SeverityHigh}, ""},
		{"crash via container", domain.Fault{Type: domain.FaultServiceCrash, Severity: domain.SeverityHigh, Details: domain.FaultDetails{Container: "c"}}, ""},
		{"crash without target", domain.Fault{Type: domain.FaultServiceCrash, Severity: domain.SeverityHigh}, "service"},
		{"bad type", domain.Fault{Type: "x", Severity: domain.SeverityHigh}, "type"},
		{"bad severity", domain.Fault{Type: domain.FaultDiskFull, Severity: "x"}, "severity"},
		{"log without message", domain.Fault{Type: domain.FaultLogError, Severity: domain.SeverityLow}, "message"},
		{"bad port", domain.Fault{Type: domain.FaultNetworkIssue, Severity: domain.SeverityLow, Details: domain.FaultDetails{Port: 70000}}, "details.port"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			field, _ := ValidateFaultFields(tc.fault)
			assert.Equal(t, tc.wantField, field)
		})
	}
}

// =============================================================================
// Policy Tests
// =============================================================================

func TestCheckService(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name    string
		service string
		allowed bool
	}{
		{"listed", "nginx", true},
		{"listed with unit suffix", "nginx.service", true},
		{"not listed", "sshd", false},
		{"injection", "nginx; rm -rf /", false},
		{"flag", "--now", false},
		{"empty", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := CheckService(p, tc.service)
			assert.Equal(t, tc.allowed, res.Allowed)
			if !tc.allowed {
				assert.NotEmpty(t, res.Reason)
			}
		})
	}
}

func TestCheckPath(t *testing.T) {
	p := Policy{AllowedPathPrefixes: []string{"/var/log", "/srv/app/"}}

	tests := []struct {
		name    string
		path    string
		allowed bool
	}{
		{"file under prefix", "/var/log/app.log", true},
		{"prefix itself", "/var/log", true},
		{"trailing slash prefix", "/srv/app/uploads", true},
		{"sibling with shared prefix", "/var/logs/x", false},
		{"traversal", "/var/log/../../etc/shadow", false},
		{"relative", "var/log/app.log", false},
		{"root", "/", false},
		{"outside", "/etc/passwd", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, CheckPath(p, tc.path).Allowed)
		})
	}
}

func TestCheckPath_RootPrefixIgnored(t *testing.T) {
	p := Policy{AllowedPathPrefixes: []string{"/"}}
	assert.False(t, CheckPath(p, "/etc/passwd").Allowed)
}

func TestValidatePolicy(t *testing.T) {
	field, _ := ValidatePolicy(DefaultPolicy())
	assert.Empty(t, field)

	field, _ = ValidatePolicy(Policy{AllowedServices: []string{"bad name"}})
	assert.Equal(t, "policy.allowed_services", field)

	field, _ = ValidatePolicy(Policy{AllowedPathPrefixes: []string{"relative"}})
	assert.Equal(t, "policy.allowed_path_prefixes", field)

	field, _ = ValidatePolicy(Policy{AllowedPathPrefixes: []string{"/"}})
	assert.Equal(t, "policy.allowed_path_prefixes", field)
}
