package faults

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/validation"
)

// ErrInvalidFault is returned by Push for faults that fail validation.
var ErrInvalidFault = errors.New("invalid fault")

// DefaultQueueCapacity bounds the ingestion queue when none is configured.
const DefaultQueueCapacity = 500

// Queue holds faults submitted from outside, typically log collectors
// posting to the API. Reading drains it. When full, the oldest fault is
// dropped to make room.
type Queue struct {
	mu       sync.Mutex
	items    []domain.Fault
	capacity int
	dropped  int
}

// NewQueue creates a queue.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{capacity: capacity}
}

// Push validates and enqueues a fault. A zero timestamp is set to now.
func (q *Queue) Push(f domain.Fault) error {
	if field, msg := validation.ValidateFaultFields(f); field != "" {
		return fmt.Errorf("%w: %s: %s", ErrInvalidFault, field, msg)
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, f.Clone())
	return nil
}

// RecentFaults removes and returns up to limit queued faults in arrival
// order. Faults below level are discarded.
func (q *Queue) RecentFaults(_ context.Context, limit int, level string) ([]domain.Fault, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if limit > 0 && limit < n {
		n = limit
	}
	taken := make([]domain.Fault, n)
	copy(taken, q.items[:n])
	q.items = append([]domain.Fault(nil), q.items[n:]...)
	return FilterLevel(taken, level), nil
}

// View returns a source that reads the queue without draining it.
func (q *Queue) View() Source {
	return queueView{q: q}
}

// Len returns the number of queued faults.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many faults were discarded because the queue was full.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

type queueView struct {
	q *Queue
}

func (v queueView) RecentFaults(_ context.Context, limit int, level string) ([]domain.Fault, error) {
	v.q.mu.Lock()
	out := make([]domain.Fault, len(v.q.items))
	copy(out, v.q.items)
	v.q.mu.Unlock()
	return limitFaults(FilterLevel(out, level), limit), nil
}
