package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/healer/internal/core/remediation"
)

func message() remediation.Message {
	return remediation.Message{
		Title:    "Healing failed: disk_full",
		Severity: "high",
		Details:  map[string]string{"status": "failed", "action": "free_disk_space"},
	}
}

type recordingSink struct {
	got []remediation.Message
	err error
}

func (s *recordingSink) Notify(_ context.Context, msg remediation.Message) error {
	s.got = append(s.got, msg)
	return s.err
}

type panickingSink struct{}

func (panickingSink) Notify(context.Context, remediation.Message) error { panic("sink exploded") }

type blockingSink struct{}

func (blockingSink) Notify(ctx context.Context, _ remediation.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

// =============================================================================
// Notifier Tests
// =============================================================================

func TestNotifier_SwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	sink := &recordingSink{err: errors.New("webhook down")}

	NewNotifier(sink, 0, logger).Notify(context.Background(), message())

	assert.Len(t, sink.got, 1)
	assert.Contains(t, buf.String(), "webhook down")
}

func TestNotifier_RecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifier(panickingSink{}, 0, slog.New(slog.NewTextHandler(&buf, nil)))

	assert.NotPanics(t, func() { n.Notify(context.Background(), message()) })
	assert.Contains(t, buf.String(), "sink exploded")
}

func TestNotifier_BoundsDelivery(t *testing.T) {
	n := NewNotifier(blockingSink{}, 20*time.Millisecond, nil)

	start := time.Now()
	n.Notify(context.Background(), message())

	assert.Less(t, time.Since(start), time.Second)
}

func TestNotifier_NilSink(t *testing.T) {
	assert.NotPanics(t, func() { NewNotifier(nil, 0, nil).Notify(context.Background(), message()) })
}

func TestMulti_DeliversToAll(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("b failed")}
	c := &recordingSink{}

	err := Multi{a, b, c}.Notify(context.Background(), message())

	assert.ErrorContains(t, err, "b failed")
	assert.Len(t, a.got, 1)
	assert.Len(t, c.got, 1)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, sink.Notify(context.Background(), message()))

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "action=free_disk_space")
}

// =============================================================================
// Webhook Tests
// =============================================================================

func TestNewWebhookSink_Validation(t *testing.T) {
	_, err := NewWebhookSink(WebhookConfig{})
	assert.Error(t, err)

	_, err = NewWebhookSink(WebhookConfig{URL: "http://x", Format: "teams"})
	assert.Error(t, err)

	s, err := NewWebhookSink(WebhookConfig{URL: "http://x"})
	require.NoError(t, err)
	assert.Equal(t, FormatSlack, s.format)
	assert.Equal(t, 10*time.Second, s.httpClient.Timeout)
}

func TestWebhookSink_Slack(t *testing.T) {
	var received slackPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := NewWebhookSink(WebhookConfig{URL: server.URL, Format: FormatSlack})
	require.NoError(t, err)

	require.NoError(t, sink.Notify(context.Background(), message()))

	assert.Equal(t, "*Healing failed: disk_full*", received.Text)
	require.Len(t, received.Attachments, 1)
	assert.Equal(t, "danger", received.Attachments[0].Color)
	require.Len(t, received.Attachments[0].Fields, 2)
	assert.Equal(t, "action", received.Attachments[0].Fields[0].Title)
}

func TestWebhookSink_Discord(t *testing.T) {
	var received discordPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink, err := NewWebhookSink(WebhookConfig{URL: server.URL, Format: "Discord"})
	require.NoError(t, err)

	msg := message()
	msg.Severity = "info"
	msg.Details["manual_instructions"] = strings.Repeat("x", 2000)
	require.NoError(t, sink.Notify(context.Background(), msg))

	require.Len(t, received.Embeds, 1)
	assert.Equal(t, 0x2ECC71, received.Embeds[0].Color)
	for _, f := range received.Embeds[0].Fields {
		assert.LessOrEqual(t, len(f.Value), maxFieldLength)
	}
}

func TestWebhookSink_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal error"))
	}))
	defer server.Close()

	sink, err := NewWebhookSink(WebhookConfig{URL: server.URL, Format: FormatJSON})
	require.NoError(t, err)

	err = sink.Notify(context.Background(), message())

	assert.ErrorContains(t, err, "500")
	assert.ErrorContains(t, err, "internal error")
}
