package store

import (
	"context"
	"time"

	"github.com/artpar/healer/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for the attempt archive.
type Store interface {
	// SaveAttempt archives a finished attempt. Attempts are written once.
	SaveAttempt(ctx context.Context, attempt domain.HealingAttempt) error

	// GetAttempt returns one archived attempt.
	GetAttempt(ctx context.Context, id string) (*domain.HealingAttempt, error)

	// ListAttempts returns archived attempts, newest first.
	ListAttempts(ctx context.Context, opts ListOptions) ([]domain.HealingAttempt, error)

	// CountByStatus counts archived attempts per status.
	CountByStatus(ctx context.Context) (map[domain.AttemptStatus]int, error)

	// DeleteBefore removes attempts started before t and returns how many
	// were removed.
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// ListOptions filters and pages attempt listings.
type ListOptions struct {
	Limit     int
	Offset    int
	Status    domain.AttemptStatus // empty for any
	Signature string               // empty for any
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  50,
		Offset: 0,
	}
}

// Normalize clamps the paging fields.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
