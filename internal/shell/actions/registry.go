// Package actions is the registry of remediation handlers. Each handler
// performs one side effect on the host or container runtime and reports a
// uniform result.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/naming"
	"github.com/artpar/healer/internal/core/validation"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrUnknownAction = errors.New("unknown action type")
	ErrNotAllowed    = errors.New("target not on allow-list")
	ErrTimeout       = errors.New("action timed out")
)

// Timeouts for a single handler call.
const (
	DefaultTimeout = 20 * time.Second
	MaxTimeout     = 30 * time.Second
)

// =============================================================================
// Registry
// =============================================================================

// Handler performs one remediation and returns human readable output.
type Handler func(ctx context.Context, params domain.ActionParams) (string, error)

// Registry maps action types to handlers. The map is fixed at construction.
type Registry struct {
	handlers map[domain.ActionType]Handler
	timeout  time.Duration
	logger   *slog.Logger
}

// Config configures the built-in handlers.
type Config struct {
	Timeout        time.Duration
	Policy         validation.Policy
	NetworkService string // unit restarted by the network actions
	LogrotateConf  string
	JournalMaxSize string // passed to journalctl --vacuum-size
	KeepPrefix     string // stopped containers with this prefix survive pruning
}

// DefaultConfig returns the defaults for the built-in handlers.
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		Policy:         validation.DefaultPolicy(),
		NetworkService: "systemd-networkd",
		LogrotateConf:  "/etc/logrotate.conf",
		JournalMaxSize: "200M",
		KeepPrefix:     naming.DefaultContainerPrefix,
	}
}

// NewRegistry builds a registry with the given handlers. A timeout of zero
// selects DefaultTimeout; timeouts above MaxTimeout are clamped.
func NewRegistry(handlers map[domain.ActionType]Handler, timeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	fixed := make(map[domain.ActionType]Handler, len(handlers))
	for t, h := range handlers {
		fixed[t] = h
	}
	return &Registry{
		handlers: fixed,
		timeout:  timeout,
		logger:   logger.With("component", "actions"),
	}
}

// Has reports whether a handler is registered for t.
func (r *Registry) Has(t domain.ActionType) bool {
	_, ok := r.handlers[t]
	return ok
}

// Types lists the registered action types in a stable order.
func (r *Registry) Types() []domain.ActionType {
	var out []domain.ActionType
	for _, t := range domain.AllActionTypes() {
		if r.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// Timeout returns the per-call timeout.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

type outcome struct {
	output string
	err    error
	panic  any
}

// Execute runs the handler for spec and returns its result. Unknown types,
// invalid parameters, handler errors and timeouts all produce a failed
// result. A panicking handler is re-panicked on the caller's goroutine so
// the caller's recovery boundary sees it.
func (r *Registry) Execute(ctx context.Context, spec domain.ActionSpec) domain.ActionResult {
	start := time.Now().UTC()

	handler, ok := r.handlers[spec.Type]
	if !ok {
		return domain.NewActionFailure(spec, fmt.Sprintf("unknown action type: %s", spec.Type), start)
	}
	if err := spec.Validate(); err != nil {
		return domain.NewActionFailure(spec, err.Error(), start)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{panic: p}
			}
		}()
		out, err := handler(ctx, spec.Params)
		done <- outcome{output: out, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		r.logger.Warn("action timed out", "action", spec.String(), "timeout", r.timeout)
		return domain.NewActionFailure(spec, fmt.Sprintf("%s after %s", ErrTimeout, r.timeout), start)
	}

	if res.panic != nil {
		panic(fmt.Sprintf("action %s panicked: %v", spec.Type, res.panic))
	}
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			return domain.NewActionFailure(spec, fmt.Sprintf("%s after %s", ErrTimeout, r.timeout), start)
		}
		r.logger.Info("action failed", "action", spec.String(), "error", res.err)
		return domain.NewActionFailure(spec, res.err.Error(), start)
	}
	r.logger.Info("action succeeded", "action", spec.String(), "duration", time.Since(start))
	return domain.NewActionSuccess(spec, res.output, start)
}
