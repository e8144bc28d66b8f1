// Package faults provides the fault sources the orchestrator polls: managed
// containers, host resources and a queue fed by the API.
package faults

import (
	"context"
	"errors"
	"log/slog"

	"github.com/artpar/healer/internal/core/domain"
)

// Source yields recently detected faults. level, when not empty, is the
// minimum severity to return.
type Source interface {
	RecentFaults(ctx context.Context, limit int, level string) ([]domain.Fault, error)
}

// FilterLevel keeps faults at or above level. An empty or unknown level
// keeps everything.
func FilterLevel(faults []domain.Fault, level string) []domain.Fault {
	if level == "" {
		return faults
	}
	min, err := domain.ParseSeverity(level)
	if err != nil {
		return faults
	}
	out := faults[:0:0]
	for _, f := range faults {
		if f.Severity.Rank() >= min.Rank() {
			out = append(out, f)
		}
	}
	return out
}

func limitFaults(faults []domain.Fault, limit int) []domain.Fault {
	if limit > 0 && len(faults) > limit {
		return faults[:limit]
	}
	return faults
}

// =============================================================================
// Multi
// =============================================================================

// Multi polls several sources in order. A failing source does not hide the
// faults of the others.
type Multi struct {
	sources []Source
	logger  *slog.Logger
}

// NewMulti combines sources.
func NewMulti(logger *slog.Logger, sources ...Source) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{sources: sources, logger: logger.With("component", "fault_sources")}
}

// RecentFaults concatenates the faults of every source, in source order, up
// to limit. The error joins the errors of the sources that failed.
func (m *Multi) RecentFaults(ctx context.Context, limit int, level string) ([]domain.Fault, error) {
	var (
		all  []domain.Fault
		errs []error
	)
	for _, s := range m.sources {
		remaining := 0
		if limit > 0 {
			remaining = limit - len(all)
			if remaining <= 0 {
				break
			}
		}
		faults, err := s.RecentFaults(ctx, remaining, level)
		if err != nil {
			m.logger.Warn("fault source failed", "error", err)
			errs = append(errs, err)
		}
		all = append(all, faults...)
	}
	return limitFaults(all, limit), errors.Join(errs...)
}
