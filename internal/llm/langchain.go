package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainGateway invokes any langchaingo model with a single user prompt.
type LangChainGateway struct {
	model       llms.Model
	temperature float64
}

// NewLangChain wraps an existing langchaingo model.
func NewLangChain(model llms.Model, temperature float64) (*LangChainGateway, error) {
	if model == nil {
		return nil, errors.New("llm: langchain model is required")
	}
	return &LangChainGateway{model: model, temperature: temperature}, nil
}

// NewOllama connects to an Ollama server. Math prompts use a low temperature.
func NewOllama(serverURL, model string, temperature float64) (*LangChainGateway, error) {
	if model == "" {
		return nil, errors.New("llm: ollama model is required")
	}
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(strings.TrimRight(serverURL, "/")))
	}
	m, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create ollama client: %w", err)
	}
	return NewLangChain(m, temperature)
}

// NewOpenAI connects to an OpenAI-compatible chat completions endpoint.
func NewOpenAI(apiKey, baseURL, model string, temperature float64) (*LangChainGateway, error) {
	if apiKey == "" {
		return nil, errors.New("llm: openai api key is required")
	}
	opts := []openai.Option{openai.WithToken(apiKey)}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create openai client: %w", err)
	}
	return NewLangChain(m, temperature)
}

// Invoke sends prompt as a single human message.
func (g *LangChainGateway) Invoke(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt, llms.WithTemperature(g.temperature))
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
