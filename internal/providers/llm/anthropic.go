package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const DefaultAnthropicModel = "claude-3-5-haiku-latest"

type AnthropicConfig struct {
	Model          string
	MaxTokens      int
	MaxRetries     int
	RetryBaseDelay time.Duration
	// APIKey falls back to ANTHROPIC_API_KEY.
	APIKey string
}

func DefaultAnthropicConfig() AnthropicConfig {
	return AnthropicConfig{
		Model:          DefaultAnthropicModel,
		MaxTokens:      300,
		MaxRetries:     2,
		RetryBaseDelay: 500 * time.Millisecond,
	}
}

type Anthropic struct {
	cfg    AnthropicConfig
	client anthropic.Client
}

func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if key == "" {
		return nil, errors.New("anthropic: no API key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	return &Anthropic{cfg: cfg, client: anthropic.NewClient(option.WithAPIKey(key))}, nil
}

func (a *Anthropic) Close() error { return nil }

// Complete retries rate limits and server errors with exponential backoff.
func (a *Anthropic) Complete(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := a.cfg.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		out, err := a.once(ctx, system, user)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("anthropic: max retries exceeded: %w", lastErr)
}

func (a *Anthropic) once(ctx context.Context, system, user string) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: int64(a.cfg.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic request: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	s := err.Error()
	for _, m := range []string{"rate_limit", "429", "500", "502", "503", "504", "overloaded", "timeout"} {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
