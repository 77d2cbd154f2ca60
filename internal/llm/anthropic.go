package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient is the subset of the Anthropic SDK used by the gateway.
// *sdk.MessageService satisfies it.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicOptions configures the Anthropic gateway.
type AnthropicOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

const defaultAnthropicMaxTokens = 2048

// AnthropicGateway invokes Claude through the Messages API.
type AnthropicGateway struct {
	msg       MessagesClient
	model     string
	maxTokens int
	temp      float64
}

// NewAnthropic builds a gateway from a messages client.
func NewAnthropic(msg MessagesClient, opts AnthropicOptions) (*AnthropicGateway, error) {
	if msg == nil {
		return nil, errors.New("llm: anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("llm: anthropic model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicGateway{msg: msg, model: opts.Model, maxTokens: maxTokens, temp: opts.Temperature}, nil
}

// NewAnthropicFromAPIKey constructs a gateway using the default SDK HTTP client.
func NewAnthropicFromAPIKey(apiKey string, opts AnthropicOptions) (*AnthropicGateway, error) {
	if apiKey == "" {
		return nil, errors.New("llm: anthropic api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(&c.Messages, opts)
}

// Invoke sends prompt as one user message and concatenates the text blocks
// of the reply.
func (g *AnthropicGateway) Invoke(ctx context.Context, prompt string) (string, error) {
	params := sdk.MessageNewParams{
		MaxTokens: int64(g.maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
		Model:     sdk.Model(g.model),
	}
	if g.temp > 0 {
		params.Temperature = sdk.Float(g.temp)
	}
	msg, err := g.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: anthropic messages.new: %w", err)
	}
	if msg == nil {
		return "", ErrEmptyResponse
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
