package healer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/artpar/healer/internal/core/classifier"
	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/remediation"
	"github.com/artpar/healer/internal/core/rootcause"
	"github.com/artpar/healer/internal/shell/ai"
)

// archiveTimeout bounds a single archive write.
const archiveTimeout = 5 * time.Second

// =============================================================================
// Per-Fault Pipeline
// =============================================================================

// process runs one healing attempt for f and records it. It never panics:
// anything unexpected ends the attempt as an exception. When forced is
// non-nil that action is executed regardless of the classifier and of
// auto_execute.
func (h *Healer) process(ctx context.Context, f domain.Fault, trigger domain.Trigger, forced *domain.ActionSpec) domain.HealingAttempt {
	h.pipelineMu.Lock()
	defer h.pipelineMu.Unlock()

	attempt := domain.NewHealingAttempt(f, trigger)
	logger := h.logger.With(
		"attempt_id", attempt.ID,
		"signature", attempt.FaultSignature,
		"fault_type", f.Type,
		"service", f.Service,
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("healing attempt panicked", "panic", r, "stack", string(debug.Stack()))
				attempt.MarkException(fmt.Sprintf("panic: %v", r))
			}
		}()
		if err := h.runPipeline(ctx, attempt, forced, logger); err != nil {
			logger.Error("healing attempt failed unexpectedly", "error", err)
			attempt.MarkException(err.Error())
		}
	}()

	if !attempt.Status.IsTerminal() {
		attempt.MarkException(fmt.Sprintf("attempt ended in non-terminal state %s", attempt.Status))
	}

	h.record(ctx, attempt, logger)
	return attempt.Clone()
}

func (h *Healer) runPipeline(ctx context.Context, a *domain.HealingAttempt, forced *domain.ActionSpec, logger *slog.Logger) error {
	if err := a.Transition(domain.StatusAnalyzing); err != nil {
		return err
	}

	analysis := h.analyze(ctx, a.Fault, logger)
	a.Analysis = &analysis

	if forced != nil {
		a.CandidateActions = []domain.ActionSpec{*forced}
	} else {
		a.CandidateActions = classifier.Classify(a.Fault, h.opts.Names)
	}

	if len(a.CandidateActions) == 0 {
		logger.Info("no remediation action for fault")
		return a.Transition(domain.StatusNoAction)
	}
	if forced == nil && !h.Config().AutoExecute {
		logger.Info("healing awaits approval", "action", a.CandidateActions[0].String())
		return a.Transition(domain.StatusPendingApproval)
	}

	if err := a.Transition(domain.StatusExecuting); err != nil {
		return err
	}
	contain(logger, "started notification", func() {
		h.deps.Notifier.Notify(ctx, remediation.Started(*a))
	})

	spec := a.CandidateActions[0]
	result := h.deps.Actions.Execute(ctx, spec)
	a.ActionsTaken = append(a.ActionsTaken, result)
	h.deps.Metrics.ActionExecuted(result)

	if !result.Success {
		logger.Warn("remediation action failed", "action", spec.String(), "error", result.Error)
		a.ErrorMessage = result.Error
		a.ManualInstructions = remediation.ManualInstructions(a.Fault, h.containerFor(a.Fault, spec))
		return a.Transition(domain.StatusFailed)
	}

	actedAt := time.Now().UTC()
	if d := h.opts.PostActionDelay; d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}

	v := h.deps.Verifier.Verify(ctx, a.Fault, spec, actedAt)
	a.Verification = &v
	h.deps.Metrics.Verified(v)

	if v.Success {
		logger.Info("fault healed", "action", spec.String(), "method", v.Method)
		return a.Transition(domain.StatusHealed)
	}

	logger.Warn("healing not verified", "action", spec.String(), "method", v.Method, "details", v.Details)
	a.ManualInstructions = remediation.ManualInstructions(a.Fault, h.containerFor(a.Fault, spec))
	return a.Transition(domain.StatusFailedVerification)
}

// record stores a finished attempt and fires its outcome notification.
// Neither the archive nor the notifier can change the recorded status.
func (h *Healer) record(ctx context.Context, a *domain.HealingAttempt, logger *slog.Logger) {
	h.history.Record(*a)
	h.deps.Metrics.AttemptRecorded(a.Status)

	if h.deps.Archive != nil {
		contain(logger, "archive", func() {
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
			defer cancel()
			if err := h.deps.Archive.SaveAttempt(actx, *a); err != nil {
				logger.Warn("failed to archive attempt", "error", err)
			}
		})
	}

	if a.Status != domain.StatusNoAction {
		contain(logger, "outcome notification", func() {
			h.deps.Notifier.Notify(context.WithoutCancel(ctx), remediation.Outcome(*a))
		})
	}

	logger.Info("healing attempt recorded", "status", a.Status)
}

// contain runs a best-effort side effect. A panic is logged and dropped so
// it can neither change the attempt nor reach the loop.
func contain(logger *slog.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(what+" panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// =============================================================================
// Analysis
// =============================================================================

// analyze runs the rule ladder and lets the AI analyzer override it when it
// is more confident. AI errors fall back to the ladder.
func (h *Healer) analyze(ctx context.Context, f domain.Fault, logger *slog.Logger) domain.RootCauseAnalysis {
	ev := h.collectEvidence(ctx, f, logger)
	ladder := rootcause.Ladder(f, ev)

	res, err := h.deps.Analyzer.Analyze(ctx, ai.Request{Fault: f, Evidence: ev, Ladder: ladder})
	if err != nil {
		if !errors.Is(err, ai.ErrDisabled) {
			logger.Warn("ai analysis unavailable, using rule ladder", "error", err)
		}
		return ladder
	}
	return rootcause.Merge(ladder, res.Insights(h.deps.Analyzer.Name()))
}

// collectEvidence gathers logs, restart count and a resource snapshot.
// Every collector is best-effort and individually time-bounded.
func (h *Healer) collectEvidence(ctx context.Context, f domain.Fault, logger *slog.Logger) domain.Evidence {
	var ev domain.Evidence

	if f.Type == domain.FaultServiceCrash && h.deps.Containers != nil {
		if name := h.containerFor(f, domain.ActionSpec{}); name != "" {
			cctx, cancel := context.WithTimeout(ctx, h.opts.EvidenceTimeout)
			lines, err := h.deps.Containers.ContainerLogs(cctx, name, domain.MaxEvidenceLogs)
			cancel()
			if err != nil {
				logger.Debug("container logs unavailable", "container", name, "error", err)
			} else {
				ev = ev.WithLogs(lines)
			}

			cctx, cancel = context.WithTimeout(ctx, h.opts.EvidenceTimeout)
			info, err := h.deps.Containers.InspectContainer(cctx, name)
			cancel()
			if err != nil {
				logger.Debug("container inspect unavailable", "container", name, "error", err)
			} else {
				n := info.RestartCount
				ev.RestartCount = &n
			}
		}
	}

	if h.deps.Sampler != nil {
		sctx, cancel := context.WithTimeout(ctx, h.opts.EvidenceTimeout)
		snap, err := h.deps.Sampler.Snapshot(sctx)
		cancel()
		if err != nil {
			logger.Debug("resource snapshot unavailable", "error", err)
		} else {
			ev.Resources = &snap
		}
	}

	return ev
}

// containerFor resolves the container a fault or action concerns.
func (h *Healer) containerFor(f domain.Fault, spec domain.ActionSpec) string {
	switch {
	case spec.Params.Container != "":
		return spec.Params.Container
	case f.Details.Container != "":
		return f.Details.Container
	case f.Service != "":
		return h.opts.Names.ContainerName(f.Service)
	}
	return ""
}
