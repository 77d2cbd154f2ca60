package agent_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/ashita-ai/mathmentor/internal/llm"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

// countingGateway returns reply and counts invocations.
type countingGateway struct {
	reply string
	err   error
	calls atomic.Int32
	last  atomic.Value
}

func (g *countingGateway) Invoke(_ context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	g.last.Store(prompt)
	return g.reply, g.err
}

func (g *countingGateway) lastPrompt() string {
	s, _ := g.last.Load().(string)
	return s
}

func reply(s string) *countingGateway { return &countingGateway{reply: s} }

func failing(msg string) *countingGateway { return &countingGateway{err: errors.New(msg)} }

var panicking = llm.GatewayFunc(func(context.Context, string) (string, error) {
	panic("model client exploded")
})
