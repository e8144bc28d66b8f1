package healer

import (
	"context"
	"time"

	"github.com/artpar/healer/internal/core/classifier"
	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/rootcause"
	"github.com/artpar/healer/internal/core/validation"
	"github.com/artpar/healer/internal/shell/dedup"
)

// =============================================================================
// Status
// =============================================================================

// Status is a snapshot of the healer's state.
type Status struct {
	Running                   bool       `json:"running"`
	Enabled                   bool       `json:"enabled"`
	AutoExecute               bool       `json:"auto_execute"`
	MaxHealingAttempts        int        `json:"max_healing_attempts"`
	MonitoringIntervalSeconds int        `json:"monitoring_interval_seconds"`
	Analyzer                  string     `json:"analyzer"`
	HistorySize               int        `json:"history_size"`
	HistoryCapacity           int        `json:"history_capacity"`
	TrackedSignatures         int        `json:"tracked_signatures"`
	LastCycleAt               *time.Time `json:"last_cycle_at,omitempty"`
}

// GetStatus returns the configuration and running flag.
func (h *Healer) GetStatus() Status {
	cfg := h.Config()

	s := Status{
		Running:                   h.Running(),
		Enabled:                   cfg.Enabled,
		AutoExecute:               cfg.AutoExecute,
		MaxHealingAttempts:        cfg.MaxHealingAttempts,
		MonitoringIntervalSeconds: int(cfg.MonitoringInterval / time.Second),
		Analyzer:                  h.deps.Analyzer.Name(),
		HistorySize:               h.history.Len(),
		HistoryCapacity:           h.history.Capacity(),
		TrackedSignatures:         h.gate.Len(),
	}

	h.statMu.Lock()
	if !h.lastTick.IsZero() {
		t := h.lastTick
		s.LastCycleAt = &t
	}
	h.statMu.Unlock()

	return s
}

// =============================================================================
// Configuration
// =============================================================================

// UpdateConfig applies a partial configuration update. An out-of-bounds
// field rejects the whole update and leaves the configuration unchanged.
// A changed interval re-arms the loop timer; other changes take effect at
// the next tick.
func (h *Healer) UpdateConfig(u domain.ConfigUpdate) (domain.HealerConfig, error) {
	_, done, err := h.enter()
	if err != nil {
		return domain.HealerConfig{}, err
	}
	defer done()

	if field, msg := validation.ValidateConfigUpdate(u); field != "" {
		return h.Config(), NewHealerError("UpdateConfig", field, msg, ErrInvalidConfig)
	}

	// Side effects are applied under cfgMu so concurrent updates reach the
	// gate and the timer in the order they reach the stored config.
	h.cfgMu.Lock()
	prev := h.cfg
	h.cfg = h.cfg.Apply(u)
	next := h.cfg
	if next.MaxHealingAttempts != prev.MaxHealingAttempts {
		h.gate.SetMaxAttempts(next.MaxHealingAttempts)
	}
	if next.MonitoringInterval != prev.MonitoringInterval {
		h.resetInterval()
	}
	h.cfgMu.Unlock()

	h.logger.Info("configuration updated",
		"enabled", next.Enabled,
		"auto_execute", next.AutoExecute,
		"max_attempts", next.MaxHealingAttempts,
		"interval", next.MonitoringInterval,
	)
	return next, nil
}

// =============================================================================
// History
// =============================================================================

// GetHistory returns up to limit recorded attempts, newest first. A
// non-positive limit returns everything retained.
func (h *Healer) GetHistory(limit int) []domain.HealingAttempt {
	return h.history.Recent(limit)
}

// GetAttempt returns one recorded attempt.
func (h *Healer) GetAttempt(id string) (domain.HealingAttempt, bool) {
	return h.history.Find(id)
}

// GetStatistics summarises the retained history.
func (h *Healer) GetStatistics() domain.Statistics {
	return h.history.Statistics()
}

// =============================================================================
// Manual Operations
// =============================================================================

// ManualHeal runs the pipeline for f synchronously. The fault still passes
// the deduplication gate and auto_execute still applies.
func (h *Healer) ManualHeal(ctx context.Context, f domain.Fault) (domain.HealingAttempt, error) {
	loopCtx, done, err := h.enter()
	if err != nil {
		return domain.HealingAttempt{}, err
	}
	defer done()

	if field, msg := validation.ValidateFaultFields(f); field != "" {
		return domain.HealingAttempt{}, NewHealerError("ManualHeal", field, msg, ErrInvalidFault)
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}

	if err := h.admit("ManualHeal", f.Signature(), f.Timestamp); err != nil {
		return domain.HealingAttempt{}, err
	}

	ctx, cancel := bind(ctx, loopCtx)
	defer cancel()
	return h.process(ctx, f, domain.TriggerManual, nil), nil
}

// ExecuteRequest approves an action. Either AttemptID names a recorded
// attempt whose fault is reused, or Fault is given directly. An empty
// Action falls back to the attempt's top candidate.
type ExecuteRequest struct {
	AttemptID string             `json:"attempt_id,omitempty"`
	Fault     *domain.Fault      `json:"fault,omitempty"`
	Action    *domain.ActionSpec `json:"action,omitempty"`
}

// ExecuteAction dispatches an approved action as a new attempt. The new
// attempt passes the rate limit but not the staleness check, since
// approvals usually arrive after the fault was reported.
func (h *Healer) ExecuteAction(ctx context.Context, req ExecuteRequest) (domain.HealingAttempt, error) {
	loopCtx, done, err := h.enter()
	if err != nil {
		return domain.HealingAttempt{}, err
	}
	defer done()

	var (
		f      domain.Fault
		action domain.ActionSpec
	)
	switch {
	case req.AttemptID != "":
		prev, ok := h.history.Find(req.AttemptID)
		if !ok {
			return domain.HealingAttempt{}, NewHealerError("ExecuteAction", "attempt_id", req.AttemptID, ErrAttemptNotFound)
		}
		f = prev.Fault
		if len(prev.CandidateActions) > 0 {
			action = prev.CandidateActions[0]
		}
	case req.Fault != nil:
		f = *req.Fault
		if field, msg := validation.ValidateFaultFields(f); field != "" {
			return domain.HealingAttempt{}, NewHealerError("ExecuteAction", field, msg, ErrInvalidFault)
		}
		if candidates := classifier.Classify(f, h.opts.Names); len(candidates) > 0 {
			action = candidates[0]
		}
	default:
		return domain.HealingAttempt{}, NewHealerError("ExecuteAction", "fault", "attempt_id or fault is required", ErrInvalidFault)
	}

	if req.Action != nil && req.Action.Type != "" {
		action = *req.Action
	}
	if action.Type == "" {
		return domain.HealingAttempt{}, NewHealerError("ExecuteAction", "action", "no candidate action", ErrNoAction)
	}
	if err := action.Validate(); err != nil {
		return domain.HealingAttempt{}, NewHealerError("ExecuteAction", "action", err.Error(), ErrNoAction)
	}

	if err := h.admit("ExecuteAction", f.Signature(), time.Time{}); err != nil {
		return domain.HealingAttempt{}, err
	}

	ctx, cancel := bind(ctx, loopCtx)
	defer cancel()
	return h.process(ctx, f, domain.TriggerApproval, &action), nil
}

// admit consults the deduplication gate for an API-initiated attempt.
func (h *Healer) admit(op, sig string, faultTime time.Time) error {
	switch decision := h.gate.Admit(sig, faultTime); decision {
	case dedup.Allowed:
		return nil
	case dedup.Stale:
		h.deps.Metrics.DedupSkipped(string(decision))
		return NewHealerError(op, "timestamp", "fault is older than the staleness window", ErrStaleFault)
	default:
		h.deps.Metrics.DedupSkipped(string(decision))
		return NewHealerError(op, "", "attempt limit reached for fault signature "+sig, ErrRateLimited)
	}
}

// bind derives a context from ctx that is also cancelled when the healer
// stops.
func bind(ctx, loopCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(loopCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// =============================================================================
// Preview
// =============================================================================

// Preview is what the healer would do for a fault.
type Preview struct {
	Fault            domain.Fault             `json:"fault"`
	Analysis         domain.RootCauseAnalysis `json:"analysis"`
	CandidateActions []domain.ActionSpec      `json:"candidate_actions"`
}

// Preview pulls one batch of faults and classifies them without touching
// the deduplication gate, history or any action.
func (h *Healer) Preview(ctx context.Context) ([]Preview, error) {
	pulled, err := h.deps.Sources.RecentFaults(ctx, h.opts.BatchSize, h.opts.FaultLevel)
	out := make([]Preview, 0, len(pulled))
	for _, f := range pulled {
		ev := h.collectEvidence(ctx, f, h.logger)
		out = append(out, Preview{
			Fault:            f,
			Analysis:         rootcause.Ladder(f, ev),
			CandidateActions: classifier.Classify(f, h.opts.Names),
		})
	}
	return out, err
}
