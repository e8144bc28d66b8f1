package faults

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/verification"
	"github.com/artpar/healer/internal/shell/sysinfo"
)

// criticalUsage is the utilisation above which a resource fault is critical.
const criticalUsage = 99.0

// ResourceSource reports host resources above their alerting thresholds.
type ResourceSource struct {
	sampler    sysinfo.Sampler
	thresholds verification.Thresholds
}

// NewResourceSource creates a resource fault source. A zero thresholds value
// selects the default alerting thresholds.
func NewResourceSource(sampler sysinfo.Sampler, thresholds verification.Thresholds) *ResourceSource {
	if thresholds == (verification.Thresholds{}) {
		thresholds = verification.DefaultAlertThresholds()
	}
	return &ResourceSource{sampler: sampler, thresholds: thresholds}
}

var resourceTypes = []struct {
	faultType domain.FaultType
	name      string
}{
	{domain.FaultCPUExhaustion, "cpu"},
	{domain.FaultMemoryExhaustion, "memory"},
	{domain.FaultDiskFull, "disk"},
}

// RecentFaults samples the host once and returns a fault per resource whose
// usage exceeds its threshold.
func (s *ResourceSource) RecentFaults(ctx context.Context, limit int, level string) ([]domain.Fault, error) {
	snap, err := s.sampler.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("sample resources: %w", err)
	}
	at := snap.CollectedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var out []domain.Fault
	for _, rt := range resourceTypes {
		value, limitPct, _ := s.thresholds.For(rt.faultType, snap)
		if value <= limitPct {
			continue
		}
		severity := domain.SeverityHigh
		if value >= criticalUsage {
			severity = domain.SeverityCritical
		}
		out = append(out, domain.Fault{
			Type:      rt.faultType,
			Severity:  severity,
			Message:   fmt.Sprintf("%s usage above %.0f%%", rt.name, limitPct),
			Timestamp: at,
			Details: domain.FaultDetails{
				Value:     value,
				Threshold: limitPct,
			},
		})
	}
	return limitFaults(FilterLevel(out, level), limit), nil
}
