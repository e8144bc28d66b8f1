package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/healer/internal/core/remediation"
)

// Webhook payload formats.
const (
	FormatSlack   = "slack"
	FormatDiscord = "discord"
	FormatJSON    = "json"
)

// maxFieldLength keeps chat fields within the limits both services accept.
const maxFieldLength = 1000

// WebhookConfig holds configuration for the webhook sink.
type WebhookConfig struct {
	URL     string        `mapstructure:"webhook_url"`
	Format  string        `mapstructure:"format"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WebhookSink posts notifications to a chat webhook.
type WebhookSink struct {
	url        string
	format     string
	httpClient *http.Client
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	format := strings.ToLower(cfg.Format)
	switch format {
	case "":
		format = FormatSlack
	case FormatSlack, FormatDiscord, FormatJSON:
	default:
		return nil, fmt.Errorf("unknown webhook format %q", cfg.Format)
	}

	return &WebhookSink{
		url:    cfg.URL,
		format: format,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// Notify posts msg to the webhook.
func (s *WebhookSink) Notify(ctx context.Context, msg remediation.Message) error {
	body, err := json.Marshal(s.payload(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook returned error %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// =============================================================================
// Payloads
// =============================================================================

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Timestamp string         `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type jsonPayload struct {
	Title    string            `json:"title"`
	Severity string            `json:"severity"`
	Details  map[string]string `json:"details,omitempty"`
	SentAt   string            `json:"sent_at"`
}

func (s *WebhookSink) payload(msg remediation.Message) any {
	now := time.Now().UTC()
	keys := sortedKeys(msg.Details)

	switch s.format {
	case FormatDiscord:
		embed := discordEmbed{
			Title:     msg.Title,
			Color:     discordColor(msg.Severity),
			Timestamp: now.Format(time.RFC3339),
		}
		for _, k := range keys {
			embed.Fields = append(embed.Fields, discordField{
				Name:   k,
				Value:  truncate(msg.Details[k]),
				Inline: len(msg.Details[k]) < 40,
			})
		}
		return discordPayload{Embeds: []discordEmbed{embed}}
	case FormatJSON:
		return jsonPayload{
			Title:    msg.Title,
			Severity: msg.Severity,
			Details:  msg.Details,
			SentAt:   now.Format(time.RFC3339),
		}
	}

	att := slackAttachment{
		Color:  slackColor(msg.Severity),
		Footer: "healer",
		Ts:     now.Unix(),
	}
	for _, k := range keys {
		att.Fields = append(att.Fields, slackField{
			Title: k,
			Value: truncate(msg.Details[k]),
			Short: len(msg.Details[k]) < 40,
		})
	}
	return slackPayload{Text: "*" + msg.Title + "*", Attachments: []slackAttachment{att}}
}

func slackColor(severity string) string {
	switch severity {
	case "critical", "high":
		return "danger"
	case "medium":
		return "warning"
	}
	return "good"
}

func discordColor(severity string) int {
	switch severity {
	case "critical", "high":
		return 0xE74C3C
	case "medium":
		return 0xF1C40F
	}
	return 0x2ECC71
}

func truncate(s string) string {
	if len(s) <= maxFieldLength {
		return s
	}
	return s[:maxFieldLength-3] + "..."
}
