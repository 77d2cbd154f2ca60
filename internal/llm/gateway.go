// Package llm provides the language-model gateway: a stateless prompt in,
// text out capability with Ollama, OpenAI-compatible and Anthropic backends.
//
// The gateway enforces no structure on responses. Stages that expect JSON
// run the text through package structured.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Gateway sends one prompt to a model and returns the raw completion.
type Gateway interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, prompt string) (string, error)

// Invoke calls f.
func (f GatewayFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Provider names accepted by New.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config selects and configures a backend.
type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	// RequestsPerSecond enables client-side rate limiting when > 0.
	RequestsPerSecond float64
	Burst             int
}

// New builds the configured gateway, wrapped with the per-call timeout and
// rate limit when those are set.
func New(cfg Config) (Gateway, error) {
	var (
		g   Gateway
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		g, err = NewOllama(cfg.BaseURL, cfg.Model, cfg.Temperature)
	case ProviderOpenAI:
		g, err = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature)
	case ProviderAnthropic:
		g, err = NewAnthropicFromAPIKey(cfg.APIKey, AnthropicOptions{
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		g = WithTimeout(g, cfg.Timeout)
	}
	if cfg.RequestsPerSecond > 0 {
		g = NewRateLimited(g, cfg.RequestsPerSecond, cfg.Burst)
	}
	return g, nil
}

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithTimeout bounds every call to next.
func WithTimeout(next Gateway, d time.Duration) Gateway {
	return &timeoutGateway{next: next, timeout: d}
}

func (g *timeoutGateway) Invoke(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.Invoke(ctx, prompt)
}
