// Package verify re-checks the condition behind a fault after a remediation
// ran. Every check that cannot be carried out yields a failed result.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/naming"
	"github.com/artpar/healer/internal/core/verification"
	"github.com/artpar/healer/internal/shell/actions"
	"github.com/artpar/healer/internal/shell/docker"
	"github.com/artpar/healer/internal/shell/sysinfo"
)

// MaxDialTimeout bounds the port check.
const MaxDialTimeout = 2 * time.Second

// recurrenceWindow is how many recent faults are scanned for a recurrence.
const recurrenceWindow = 200

// =============================================================================
// Collaborators
// =============================================================================

// ContainerInspector reports container state.
type ContainerInspector interface {
	InspectContainer(ctx context.Context, name string) (*docker.ContainerInfo, error)
}

// FaultLister lists recent faults; used to look for recurrences.
type FaultLister interface {
	RecentFaults(ctx context.Context, limit int, level string) ([]domain.Fault, error)
}

// Config configures the engine.
type Config struct {
	Names       naming.Convention
	Thresholds  verification.Thresholds
	DialHost    string
	DialTimeout time.Duration
}

// Engine dispatches to the check that fits the fault.
type Engine struct {
	containers ContainerInspector
	sampler    sysinfo.Sampler
	runner     actions.CommandRunner
	faults     FaultLister
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithContainers sets the container runtime.
func WithContainers(c ContainerInspector) Option { return func(e *Engine) { e.containers = c } }

// WithSampler sets the resource sampler.
func WithSampler(s sysinfo.Sampler) Option { return func(e *Engine) { e.sampler = s } }

// WithRunner sets the command runner used for service checks.
func WithRunner(r actions.CommandRunner) Option { return func(e *Engine) { e.runner = r } }

// WithFaults sets the fault source used for recurrence checks.
func WithFaults(f FaultLister) Option { return func(e *Engine) { e.faults = f } }

// NewEngine creates a verification engine. Missing collaborators make the
// checks that need them fail with a verification error.
func NewEngine(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DialHost == "" {
		cfg.DialHost = "127.0.0.1"
	}
	if cfg.DialTimeout <= 0 || cfg.DialTimeout > MaxDialTimeout {
		cfg.DialTimeout = MaxDialTimeout
	}
	if cfg.Thresholds == (verification.Thresholds{}) {
		cfg.Thresholds = verification.DefaultThresholds()
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger.With("component", "verify"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var errUnavailable = errors.New("collaborator unavailable")

// =============================================================================
// Verify
// =============================================================================

// Verify checks whether spec resolved f. actedAt is when the action ran; the
// caller is expected to have waited for the effect to settle.
func (e *Engine) Verify(ctx context.Context, f domain.Fault, spec domain.ActionSpec, actedAt time.Time) domain.VerificationResult {
	method := verification.MethodFor(f, spec)

	var res domain.VerificationResult
	switch method {
	case domain.VerifyContainerCheck:
		res = e.checkContainer(ctx, f, spec)
	case domain.VerifyResourceCheck:
		res = e.checkResource(ctx, f)
	case domain.VerifyPortCheck:
		res = e.checkPort(ctx, f)
	case domain.VerifyServiceCheck:
		res = e.checkService(ctx, spec)
	case domain.VerifyPathCheck:
		res = e.checkPath(spec)
	default:
		res = e.checkRecurrence(ctx, f, actedAt)
	}

	e.logger.Debug("verification finished",
		"method", res.Method,
		"success", res.Success,
		"details", res.Details,
	)
	return res
}

func (e *Engine) checkContainer(ctx context.Context, f domain.Fault, spec domain.ActionSpec) domain.VerificationResult {
	now := e.now().UTC()
	if e.containers == nil {
		return verification.CheckError(domain.VerifyContainerCheck, fmt.Errorf("container runtime: %w", errUnavailable), now)
	}
	name := spec.Params.Container
	if name == "" {
		name = f.Details.Container
	}
	if name == "" {
		name = e.cfg.Names.ContainerName(f.Service)
	}
	if name == "" {
		return verification.CheckError(domain.VerifyContainerCheck, errors.New("no container to check"), now)
	}

	info, err := e.containers.InspectContainer(ctx, name)
	if err != nil {
		if errors.Is(err, docker.ErrContainerNotFound) {
			return verification.Container(verification.ContainerState{Name: name, Status: "missing"}, now)
		}
		return verification.CheckError(domain.VerifyContainerCheck, err, now)
	}

	state := verification.ContainerState{Name: name, Running: info.Running(), Status: string(info.Status)}
	if info.Health != "" {
		h := info.Health
		state.Health = &h
	}
	return verification.Container(state, now)
}

func (e *Engine) checkResource(ctx context.Context, f domain.Fault) domain.VerificationResult {
	if e.sampler == nil {
		return verification.CheckError(domain.VerifyResourceCheck, fmt.Errorf("resource sampler: %w", errUnavailable), e.now().UTC())
	}
	snap, err := e.sampler.Snapshot(ctx)
	if err != nil {
		return verification.CheckError(domain.VerifyResourceCheck, err, e.now().UTC())
	}
	return verification.Resource(f.Type, snap, e.cfg.Thresholds, e.now().UTC())
}

func (e *Engine) checkPort(ctx context.Context, f domain.Fault) domain.VerificationResult {
	port := f.Details.Port
	if port <= 0 || port > 65535 {
		return verification.CheckError(domain.VerifyPortCheck, errors.New("fault has no port to check"), e.now().UTC())
	}
	addr := net.JoinHostPort(e.cfg.DialHost, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: e.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err == nil {
		conn.Close()
	}
	return verification.Port(addr, err, e.now().UTC())
}

func (e *Engine) checkService(ctx context.Context, spec domain.ActionSpec) domain.VerificationResult {
	now := e.now().UTC()
	if e.runner == nil {
		return verification.CheckError(domain.VerifyServiceCheck, fmt.Errorf("command runner: %w", errUnavailable), now)
	}
	// is-active exits non-zero for inactive units but still prints the state.
	out, err := e.runner.Run(ctx, "systemctl", "is-active", spec.Params.Service)
	state := strings.TrimSpace(firstLine(out))
	if state == "" {
		if err == nil {
			err = errors.New("empty state from systemctl")
		}
		return verification.CheckError(domain.VerifyServiceCheck, err, now)
	}
	return verification.Service(spec.Params.Service, state, now)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (e *Engine) checkPath(spec domain.ActionSpec) domain.VerificationResult {
	now := e.now().UTC()
	info, err := os.Stat(spec.Params.Path)
	if err != nil {
		return verification.CheckError(domain.VerifyPathCheck, err, now)
	}
	want := actions.RepairedMode(info.Mode())
	return verification.Path(spec.Params.Path, info.Mode().Perm()&want == want, now)
}

func (e *Engine) checkRecurrence(ctx context.Context, f domain.Fault, actedAt time.Time) domain.VerificationResult {
	now := e.now().UTC()
	if e.faults == nil {
		return verification.CheckError(domain.VerifyLogCheck, fmt.Errorf("fault source: %w", errUnavailable), now)
	}
	faults, err := e.faults.RecentFaults(ctx, recurrenceWindow, "")
	if err != nil {
		return verification.CheckError(domain.VerifyLogCheck, err, now)
	}
	sig := f.Signature()
	count := 0
	for _, other := range faults {
		if other.Signature() == sig && other.Timestamp.After(actedAt) {
			count++
		}
	}
	return verification.Recurrence(count, now)
}
