// Package ai asks an external language model for a root cause. Every
// provider sits behind the same guard rails: a per-call timeout, a token
// bucket and a circuit breaker. Callers treat any error as "no opinion".
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/artpar/healer/internal/core/domain"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrDisabled        = errors.New("ai analyzer disabled")
	ErrRateLimited     = errors.New("ai analyzer rate limited")
	ErrCircuitOpen     = errors.New("ai analyzer circuit open")
	ErrEmptyReply      = errors.New("ai analyzer returned an empty reply")
	ErrUnknownProvider = errors.New("unknown ai provider")
)

// =============================================================================
// Interfaces
// =============================================================================

// Request is what the analyzer is told about a fault.
type Request struct {
	Fault    domain.Fault
	Evidence domain.Evidence
	Ladder   domain.RootCauseAnalysis
}

// Result is a parsed analyzer reply.
type Result struct {
	RootCause  string
	Confidence float64
	Raw        string
}

// Insights converts the result for storage on an analysis.
func (r Result) Insights(provider string) *domain.AIInsights {
	return &domain.AIInsights{
		Provider:   provider,
		RootCause:  r.RootCause,
		Confidence: r.Confidence,
		Raw:        r.Raw,
	}
}

// Analyzer is the AI text analyzer the orchestrator consults.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, req Request) (Result, error)
}

// Completer sends one prompt to a model and returns its text reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// =============================================================================
// NoOp
// =============================================================================

// NoOp is used when no provider is configured.
type NoOp struct{}

func (NoOp) Name() string { return "none" }

func (NoOp) Analyze(context.Context, Request) (Result, error) {
	return Result{}, ErrDisabled
}

// =============================================================================
// Guarded Client
// =============================================================================

// Guard configures the protections around a provider.
type Guard struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	Burst         int           `mapstructure:"burst"`
	MaxFailures   uint32        `mapstructure:"breaker_max_failures"` // consecutive failures that open the breaker
	OpenTimeout   time.Duration `mapstructure:"breaker_open_timeout"` // how long the breaker stays open
}

// DefaultGuard returns the default protections.
func DefaultGuard() Guard {
	return Guard{
		Timeout:       15 * time.Second,
		RatePerMinute: 10,
		Burst:         3,
		MaxFailures:   5,
		OpenTimeout:   time.Minute,
	}
}

func (g Guard) withDefaults() Guard {
	def := DefaultGuard()
	if g.Timeout <= 0 {
		g.Timeout = def.Timeout
	}
	if g.RatePerMinute <= 0 {
		g.RatePerMinute = def.RatePerMinute
	}
	if g.Burst <= 0 {
		g.Burst = def.Burst
	}
	if g.MaxFailures == 0 {
		g.MaxFailures = def.MaxFailures
	}
	if g.OpenTimeout <= 0 {
		g.OpenTimeout = def.OpenTimeout
	}
	return g
}

// Client wraps a Completer with the guard rails and reply parsing.
type Client struct {
	name      string
	completer Completer
	guard     Guard
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

// NewClient creates a guarded analyzer around completer.
func NewClient(name string, completer Completer, guard Guard, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	guard = guard.withDefaults()
	logger = logger.With("component", "ai", "provider", name)

	settings := gobreaker.Settings{
		Name:        "ai-" + name,
		MaxRequests: 1,
		Timeout:     guard.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= guard.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ai circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		name:      name,
		completer: completer,
		guard:     guard,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(guard.RatePerMinute)), guard.Burst),
		breaker:   gobreaker.NewCircuitBreaker(settings),
		logger:    logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Analyze asks the model for a root cause.
func (c *Client) Analyze(ctx context.Context, req Request) (Result, error) {
	if !c.limiter.Allow() {
		return Result{}, ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(ctx, c.guard.Timeout)
	defer cancel()

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.completer.Complete(ctx, BuildPrompt(req))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Result{}, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return Result{}, fmt.Errorf("%s completion: %w", c.name, err)
	}

	res, err := ParseReply(out.(string))
	if err != nil {
		return Result{}, err
	}
	c.logger.Debug("ai analysis finished",
		"root_cause", res.RootCause,
		"confidence", res.Confidence,
		"duration", time.Since(start),
	)
	return res, nil
}
