package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sashabaranov/go-openai"
)

// Provider names.
const (
	ProviderNone      = "none"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Default models.
const (
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultOpenAIModel    = "gpt-4o-mini"
)

const defaultMaxTokens = 1024

// Config selects and configures a provider.
type Config struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
	Guard    Guard  `mapstructure:",squash"`
}

// New builds the analyzer described by cfg. An empty or "none" provider
// yields NoOp.
func New(cfg Config, logger *slog.Logger) (Analyzer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		return NoOp{}, nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, errors.New("anthropic provider requires an api key")
		}
		return NewClient(ProviderAnthropic, NewAnthropicCompleter(cfg), cfg.Guard, logger), nil
	case ProviderOpenAI:
		// Local OpenAI-compatible servers usually run without a key.
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, errors.New("openai provider requires an api key or a base url")
		}
		return NewClient(ProviderOpenAI, NewOpenAICompleter(cfg), cfg.Guard, logger), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
}

// =============================================================================
// Anthropic
// =============================================================================

// AnthropicCompleter calls the Anthropic Messages API.
type AnthropicCompleter struct {
	client anthropic.Client
	model  string
}

// NewAnthropicCompleter creates a completer from cfg. Retries are left to
// the caller's next tick.
func NewAnthropicCompleter(cfg Config) *AnthropicCompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicCompleter{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Complete implements Completer.
func (a *AnthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// =============================================================================
// OpenAI-compatible
// =============================================================================

// OpenAICompleter calls an OpenAI-compatible chat completion endpoint.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAICompleter creates a completer from cfg.
func NewOpenAICompleter(cfg Config) *OpenAICompleter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAICompleter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

// Complete implements Completer.
func (o *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You diagnose infrastructure faults and answer in JSON."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: defaultMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
