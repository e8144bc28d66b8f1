// Package notify delivers healing notifications. Delivery is best effort:
// Notifier logs sink failures and never returns them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/artpar/healer/internal/core/remediation"
)

// =============================================================================
// Sink Interface
// =============================================================================

// Sink delivers one notification.
type Sink interface {
	Notify(ctx context.Context, msg remediation.Message) error
}

// =============================================================================
// Notifier
// =============================================================================

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 5 * time.Second

// Notifier wraps a Sink so delivery is bounded in time and failures stay
// local.
type Notifier struct {
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger
}

// NewNotifier creates a notifier. A nil sink yields a notifier that drops
// everything.
func NewNotifier(sink Sink, timeout time.Duration, logger *slog.Logger) *Notifier {
	if sink == nil {
		sink = NoOp{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sink:    sink,
		timeout: timeout,
		logger:  logger.With("component", "notify"),
	}
}

// Notify delivers msg, logging any error or panic from the sink.
func (n *Notifier) Notify(ctx context.Context, msg remediation.Message) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("notification sink panicked", "title", msg.Title, "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.sink.Notify(ctx, msg); err != nil {
		n.logger.Warn("failed to deliver notification", "title", msg.Title, "error", err)
	}
}

// =============================================================================
// Simple Sinks
// =============================================================================

// NoOp drops every notification.
type NoOp struct{}

// Notify does nothing.
func (NoOp) Notify(context.Context, remediation.Message) error { return nil }

// LogSink writes notifications to a logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs notifications.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "notifications")}
}

// Notify logs the message at a level matching its severity.
func (s *LogSink) Notify(ctx context.Context, msg remediation.Message) error {
	attrs := []any{"severity", msg.Severity}
	for _, k := range sortedKeys(msg.Details) {
		attrs = append(attrs, k, msg.Details[k])
	}
	s.logger.Log(ctx, levelFor(msg.Severity), msg.Title, attrs...)
	return nil
}

// Multi fans a notification out to several sinks.
type Multi []Sink

// Notify delivers to every sink and joins their errors.
func (m Multi) Notify(ctx context.Context, msg remediation.Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func levelFor(severity string) slog.Level {
	switch severity {
	case "critical", "high":
		return slog.LevelError
	case "medium":
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
