// Package healer contains the orchestrator that turns faults into healing
// attempts: it pulls faults on an interval, gates them, analyses them,
// dispatches a remediation action and verifies the result.
package healer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/naming"
	"github.com/artpar/healer/internal/core/remediation"
	"github.com/artpar/healer/internal/core/validation"
	"github.com/artpar/healer/internal/core/verification"
	"github.com/artpar/healer/internal/shell/ai"
	"github.com/artpar/healer/internal/shell/dedup"
	"github.com/artpar/healer/internal/shell/docker"
	"github.com/artpar/healer/internal/shell/faults"
	"github.com/artpar/healer/internal/shell/history"
	"github.com/artpar/healer/internal/shell/metrics"
	"github.com/artpar/healer/internal/shell/sysinfo"
)

// =============================================================================
// Collaborators
// =============================================================================

// Executor dispatches a single remediation action.
type Executor interface {
	Execute(ctx context.Context, spec domain.ActionSpec) domain.ActionResult
}

// Verifier checks whether an action resolved a fault.
type Verifier interface {
	Verify(ctx context.Context, f domain.Fault, spec domain.ActionSpec, actedAt time.Time) domain.VerificationResult
}

// Notifier delivers notifications. Implementations must not block for long
// and must not fail the caller.
type Notifier interface {
	Notify(ctx context.Context, msg remediation.Message)
}

// Archiver persists recorded attempts beyond the in-memory history.
type Archiver interface {
	SaveAttempt(ctx context.Context, a domain.HealingAttempt) error
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ContainerInspector supplies container evidence.
type ContainerInspector interface {
	InspectContainer(ctx context.Context, name string) (*docker.ContainerInfo, error)
	ContainerLogs(ctx context.Context, name string, tail int) ([]string, error)
}

// Deps are the healer's collaborators. Any nil field is replaced by a
// no-op implementation, except Containers and Sampler which simply leave
// the corresponding evidence empty.
type Deps struct {
	Sources    faults.Source
	Analyzer   ai.Analyzer
	Actions    Executor
	Verifier   Verifier
	Notifier   Notifier
	Archive    Archiver
	Containers ContainerInspector
	Sampler    sysinfo.Sampler
	Metrics    *metrics.Metrics
}

type noSource struct{}

func (noSource) RecentFaults(context.Context, int, string) ([]domain.Fault, error) { return nil, nil }

type noNotifier struct{}

func (noNotifier) Notify(context.Context, remediation.Message) {}

type noVerifier struct{}

func (noVerifier) Verify(_ context.Context, f domain.Fault, spec domain.ActionSpec, _ time.Time) domain.VerificationResult {
	return verification.CheckError(verification.MethodFor(f, spec), errors.New("no verifier configured"), time.Now().UTC())
}

type noExecutor struct{}

func (noExecutor) Execute(_ context.Context, spec domain.ActionSpec) domain.ActionResult {
	return domain.NewActionFailure(spec, "no action registry configured", time.Now().UTC())
}

func (d Deps) withDefaults() Deps {
	if d.Sources == nil {
		d.Sources = noSource{}
	}
	if d.Analyzer == nil {
		d.Analyzer = ai.NoOp{}
	}
	if d.Actions == nil {
		d.Actions = noExecutor{}
	}
	if d.Verifier == nil {
		d.Verifier = noVerifier{}
	}
	if d.Notifier == nil {
		d.Notifier = noNotifier{}
	}
	return d
}

// =============================================================================
// Configuration
// =============================================================================

// Options configures the healer. Config is the initial runtime-mutable
// configuration; everything else is fixed for the healer's lifetime.
type Options struct {
	Config domain.HealerConfig

	// BatchSize bounds the faults pulled per tick. Default: 10.
	BatchSize int

	// FaultLevel filters pulled faults by minimum severity. Empty keeps all.
	FaultLevel string

	StalenessWindow time.Duration
	RateWindow      time.Duration
	PruneInterval   time.Duration

	// PostActionDelay is waited between an action and its verification.
	// Zero verifies immediately.
	PostActionDelay time.Duration

	// EvidenceTimeout bounds each evidence collector call. Default: 5s.
	EvidenceTimeout time.Duration

	// ArchiveRetention deletes archived attempts older than this on each
	// prune. Zero keeps everything.
	ArchiveRetention time.Duration

	HistorySize int
	Names       naming.Convention
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Config:          domain.DefaultHealerConfig(),
		BatchSize:       10,
		StalenessWindow: dedup.DefaultStalenessWindow,
		RateWindow:      dedup.DefaultRateWindow,
		PruneInterval:   dedup.DefaultPruneInterval,
		PostActionDelay: 3 * time.Second,
		EvidenceTimeout: 5 * time.Second,
		HistorySize:     history.DefaultCapacity,
		Names:           naming.NewConvention(""),
	}
}

// =============================================================================
// Healer
// =============================================================================

// Healer runs the monitoring loop and serves the administrative operations.
type Healer struct {
	deps    Deps
	opts    Options
	logger  *slog.Logger
	history *history.History
	gate    *dedup.Gate

	cfgMu sync.RWMutex
	cfg   domain.HealerConfig

	// Lifecycle management
	lifeMu  sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	resetCh chan struct{}

	// tickMu prevents overlapping ticks; pipelineMu serialises attempts
	// between the loop and API callers.
	tickMu     sync.Mutex
	pipelineMu sync.Mutex

	statMu       sync.Mutex
	lastTick     time.Time
	lastArchived time.Time
}

// New creates a healer. The initial configuration must be within bounds.
func New(opts Options, deps Deps, logger *slog.Logger) (*Healer, error) {
	if field, msg := validation.ValidateHealerConfig(opts.Config); field != "" {
		return nil, NewHealerError("New", field, msg, ErrInvalidConfig)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.EvidenceTimeout <= 0 {
		opts.EvidenceTimeout = 5 * time.Second
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = history.DefaultCapacity
	}

	if logger == nil {
		logger = slog.Default()
	}

	gateCfg := dedup.DefaultConfig()
	if opts.StalenessWindow > 0 {
		gateCfg.StalenessWindow = opts.StalenessWindow
	}
	if opts.RateWindow > 0 {
		gateCfg.RateWindow = opts.RateWindow
	}
	if opts.PruneInterval > 0 {
		gateCfg.PruneInterval = opts.PruneInterval
	}
	gateCfg.MaxAttempts = opts.Config.MaxHealingAttempts
	opts.PruneInterval = gateCfg.PruneInterval

	return &Healer{
		deps:    deps.withDefaults(),
		opts:    opts,
		logger:  logger.With("component", "healer"),
		history: history.New(opts.HistorySize),
		gate:    dedup.New(gateCfg),
		cfg:     opts.Config,
		resetCh: make(chan struct{}, 1),
	}, nil
}

// Start begins the monitoring loop. A first tick runs immediately.
func (h *Healer) Start() error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	if h.running {
		return ErrAlreadyRunning
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.running = true
	h.deps.Metrics.SetRunning(true)

	h.wg.Add(1)
	go h.run(h.ctx)

	cfg := h.Config()
	h.logger.Info("healer started",
		"interval", cfg.MonitoringInterval,
		"enabled", cfg.Enabled,
		"auto_execute", cfg.AutoExecute,
		"max_attempts", cfg.MaxHealingAttempts,
		"analyzer", h.deps.Analyzer.Name(),
	)
	return nil
}

// Stop signals the loop to exit and waits for the current tick and any
// in-flight manual attempt. In-flight work sees a cancelled context.
func (h *Healer) Stop() {
	h.lifeMu.Lock()
	if !h.running {
		h.lifeMu.Unlock()
		return
	}
	h.running = false
	h.cancel()
	h.lifeMu.Unlock()

	h.wg.Wait()
	h.deps.Metrics.SetRunning(false)
	h.logger.Info("healer stopped")
}

// Run starts the healer and blocks until ctx is done, then stops it.
func (h *Healer) Run(ctx context.Context) error {
	if err := h.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	h.Stop()
	return nil
}

// Running reports whether the loop is running.
func (h *Healer) Running() bool {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	return h.running
}

// enter registers an in-flight API operation. The returned done func must
// be called when it finishes.
func (h *Healer) enter() (context.Context, func(), error) {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	if !h.running {
		return nil, nil, ErrNotRunning
	}
	h.wg.Add(1)
	return h.ctx, h.wg.Done, nil
}

// Config returns a consistent copy of the runtime configuration.
func (h *Healer) Config() domain.HealerConfig {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	return h.cfg
}

// run is the main loop. The timer is re-armed after every tick so a tick
// that outlasts the interval is never overlapped.
func (h *Healer) run(ctx context.Context) {
	defer h.wg.Done()

	h.RunCycle(ctx)

	timer := time.NewTimer(h.Config().MonitoringInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.resetCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			d := h.Config().MonitoringInterval
			timer.Reset(d)
			h.logger.Info("monitoring interval changed", "interval", d)
		case <-timer.C:
			h.RunCycle(ctx)
			timer.Reset(h.Config().MonitoringInterval)
		}
	}
}

// resetInterval asks the loop to re-arm its timer from the current
// configuration. Pending requests coalesce.
func (h *Healer) resetInterval() {
	select {
	case h.resetCh <- struct{}{}:
	default:
	}
}

// RunCycle runs one tick synchronously: pull faults, gate them and process
// the admitted ones in order. It is a no-op while the healer is disabled.
func (h *Healer) RunCycle(ctx context.Context) {
	h.tickMu.Lock()
	defer h.tickMu.Unlock()

	start := time.Now()
	h.statMu.Lock()
	h.lastTick = start.UTC()
	h.statMu.Unlock()

	cfg := h.Config()
	if !cfg.Enabled {
		h.logger.Debug("healer disabled, skipping cycle")
		return
	}

	pulled, err := h.deps.Sources.RecentFaults(ctx, h.opts.BatchSize, h.opts.FaultLevel)
	if err != nil {
		h.logger.Warn("fault source error", "error", err)
	}
	if len(pulled) > h.opts.BatchSize {
		pulled = pulled[:h.opts.BatchSize]
	}

	processed := 0
	for _, f := range pulled {
		if ctx.Err() != nil {
			h.logger.Info("cycle abandoned", "remaining", len(pulled)-processed)
			break
		}

		sig := f.Signature()
		switch decision := h.gate.Admit(sig, f.Timestamp); decision {
		case dedup.Allowed:
			h.process(ctx, f, domain.TriggerLoop, nil)
			processed++
		default:
			h.deps.Metrics.DedupSkipped(string(decision))
			h.logger.Debug("fault skipped", "signature", sig, "reason", decision)
		}
	}

	h.pruneArchive(ctx)
	h.deps.Metrics.TickFinished(time.Since(start), len(pulled))
	if len(pulled) > 0 {
		h.logger.Debug("completed cycle", "faults", len(pulled), "processed", processed)
	}
}

// pruneArchive applies archive retention at most once per prune interval.
func (h *Healer) pruneArchive(ctx context.Context) {
	if h.deps.Archive == nil || h.opts.ArchiveRetention <= 0 {
		return
	}

	now := time.Now().UTC()
	h.statMu.Lock()
	due := now.Sub(h.lastArchived) >= h.opts.PruneInterval
	if due {
		h.lastArchived = now
	}
	h.statMu.Unlock()
	if !due {
		return
	}

	contain(h.logger, "archive retention", func() {
		n, err := h.deps.Archive.DeleteBefore(ctx, now.Add(-h.opts.ArchiveRetention))
		if err != nil {
			h.logger.Warn("failed to prune archive", "error", err)
			return
		}
		if n > 0 {
			h.logger.Info("pruned archive", "deleted", n)
		}
	})
}
