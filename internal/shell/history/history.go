// Package history keeps the most recent healing attempts in memory.
package history

import (
	"sync"

	"github.com/artpar/healer/internal/core/domain"
)

// DefaultCapacity is the number of attempts retained when none is configured.
const DefaultCapacity = 100

// History is a bounded, concurrency-safe log of finished attempts. When full,
// recording a new attempt evicts the oldest one.
type History struct {
	mu       sync.RWMutex
	entries  []domain.HealingAttempt
	next     int // index the next entry is written to
	size     int
	capacity int
}

// New creates a history holding at most capacity attempts.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		entries:  make([]domain.HealingAttempt, capacity),
		capacity: capacity,
	}
}

// Record stores a copy of the attempt.
func (h *History) Record(a domain.HealingAttempt) {
	c := a.Clone()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.next] = c
	h.next = (h.next + 1) % h.capacity
	if h.size < h.capacity {
		h.size++
	}
}

// Recent returns up to limit attempts, newest first. A limit of zero or less
// returns everything retained.
func (h *History) Recent(limit int) []domain.HealingAttempt {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.HealingAttempt, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.next - 1 - i + h.capacity) % h.capacity
		out = append(out, h.entries[idx].Clone())
	}
	return out
}

// Find returns the attempt with the given ID.
func (h *History) Find(id string) (domain.HealingAttempt, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := 0; i < h.size; i++ {
		idx := (h.next - 1 - i + h.capacity) % h.capacity
		if h.entries[idx].ID == id {
			return h.entries[idx].Clone(), true
		}
	}
	return domain.HealingAttempt{}, false
}

// Len returns the number of retained attempts.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Capacity returns the retention bound.
func (h *History) Capacity() int {
	return h.capacity
}

// Statistics aggregates every retained attempt.
func (h *History) Statistics() domain.Statistics {
	return domain.ComputeStatistics(h.Recent(0))
}
