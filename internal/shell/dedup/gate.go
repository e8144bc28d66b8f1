// Package dedup is the gate every fault passes before a healing attempt is
// started. It drops stale faults and caps attempts per fault signature
// within a sliding window.
package dedup

import (
	"sync"
	"time"
)

// Defaults.
const (
	DefaultStalenessWindow = 5 * time.Minute
	DefaultRateWindow      = time.Hour
	DefaultPruneInterval   = time.Hour
	DefaultMaxAttempts     = 3
)

// Decision is the outcome of Admit.
type Decision string

const (
	Allowed     Decision = "allowed"
	Stale       Decision = "stale"
	RateLimited Decision = "rate_limited"
)

// Config configures the gate.
type Config struct {
	// StalenessWindow is the maximum fault age worth healing.
	StalenessWindow time.Duration

	// RateWindow is the sliding window attempts are counted in.
	RateWindow time.Duration

	// PruneInterval is how often idle signatures are evicted. A signature
	// is idle when it has no attempt within the last PruneInterval or
	// RateWindow, whichever is longer.
	PruneInterval time.Duration

	// MaxAttempts caps attempts per signature within RateWindow.
	MaxAttempts int
}

// DefaultConfig returns the default gate configuration.
func DefaultConfig() Config {
	return Config{
		StalenessWindow: DefaultStalenessWindow,
		RateWindow:      DefaultRateWindow,
		PruneInterval:   DefaultPruneInterval,
		MaxAttempts:     DefaultMaxAttempts,
	}
}

// Gate tracks attempt timestamps per fault signature.
type Gate struct {
	mu        sync.Mutex
	cfg       Config
	attempts  map[string][]time.Time
	lastPrune time.Time
	now       func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New creates a gate. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Gate {
	def := DefaultConfig()
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = def.StalenessWindow
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = def.PruneInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	g := &Gate{
		cfg:      cfg,
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.lastPrune = g.now()
	return g
}

// Admit decides whether an attempt for signature may start. When allowed,
// the attempt is counted immediately, so two concurrent callers cannot both
// take the last slot. A zero faultTime is never stale.
func (g *Gate) Admit(signature string, faultTime time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastPrune) >= g.cfg.PruneInterval {
		g.pruneLocked(now)
	}

	if !faultTime.IsZero() && now.Sub(faultTime) > g.cfg.StalenessWindow {
		return Stale
	}

	recent := g.windowLocked(signature, now)
	if len(recent) >= g.cfg.MaxAttempts {
		g.attempts[signature] = recent
		return RateLimited
	}
	g.attempts[signature] = append(recent, now)
	return Allowed
}

// ShouldAttempt is Admit reduced to a bool.
func (g *Gate) ShouldAttempt(signature string, faultTime time.Time) bool {
	return g.Admit(signature, faultTime) == Allowed
}

// windowLocked returns the attempts for signature still inside the window.
func (g *Gate) windowLocked(signature string, now time.Time) []time.Time {
	past := g.attempts[signature]
	cutoff := now.Add(-g.cfg.RateWindow)
	i := 0
	for i < len(past) && !past[i].After(cutoff) {
		i++
	}
	return past[i:]
}

// Count returns the attempts recorded for signature within the window.
func (g *Gate) Count(signature string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.windowLocked(signature, g.now()))
}

// SetMaxAttempts changes the cap. Values below one are ignored.
func (g *Gate) SetMaxAttempts(n int) {
	if n < 1 {
		return
	}
	g.mu.Lock()
	g.cfg.MaxAttempts = n
	g.mu.Unlock()
}

// MaxAttempts returns the current cap.
func (g *Gate) MaxAttempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.MaxAttempts
}

// Prune evicts idle signatures and returns how many were removed.
func (g *Gate) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pruneLocked(g.now())
}

func (g *Gate) pruneLocked(now time.Time) int {
	g.lastPrune = now
	idleCutoff := now.Add(-max(g.cfg.PruneInterval, g.cfg.RateWindow))
	removed := 0
	for sig, past := range g.attempts {
		if len(past) == 0 || !past[len(past)-1].After(idleCutoff) {
			delete(g.attempts, sig)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked signatures.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.attempts)
}
