// Package agent implements the pipeline stages. Every stage satisfies Agent
// and reports through model.AgentResult built by Succeeded, Failed or
// Rejected. Execute never panics: a panic inside a stage is converted into a
// failed result.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/mathmentor/internal/model"
)

// Agent is one pipeline stage.
type Agent interface {
	Name() string
	Execute(ctx context.Context, in Input) model.AgentResult
}

// Input is the read-only view of a run that a stage consumes. The
// orchestrator fills the fields earlier stages produced.
type Input struct {
	RunID       string
	ProblemText string
	InputMode   model.InputMode
	Parsed      *model.ParsedProblem
	Routing     *model.Routing
	Documents   []model.Document
	Similar     []model.SimilarSolution
	Solution    *model.Solution
}

// Topic returns the routed topic, else the parsed topic, else unknown.
func (in Input) Topic() string {
	if in.Routing != nil && in.Routing.Topic != "" {
		return in.Routing.Topic
	}
	if in.Parsed != nil && in.Parsed.Topic != "" {
		return in.Parsed.Topic
	}
	return model.TopicUnknown
}

// Statement returns the parsed problem text when present, else the raw text.
func (in Input) Statement() string {
	if in.Parsed != nil && in.Parsed.ProblemText != "" {
		return in.Parsed.ProblemText
	}
	return in.ProblemText
}

// Succeeded builds a successful result.
func Succeeded(name string, data any, confidence float64) model.AgentResult {
	return model.AgentResult{Agent: name, Success: true, Data: data, Confidence: clamp(confidence)}
}

// Failed builds a failed result with zero confidence.
func Failed(name string, err error) model.AgentResult {
	return Rejected(name, nil, 0, err)
}

// Rejected builds a failed result that still carries a payload, for stages
// whose failure is a verdict rather than a malfunction.
func Rejected(name string, data any, confidence float64, err error) model.AgentResult {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return model.AgentResult{Agent: name, Success: false, Data: data, Confidence: clamp(confidence), Error: msg}
}

// guard runs fn and converts a panic into a failed result.
func guard(logger *slog.Logger, name string, fn func() model.AgentResult) (res model.AgentResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("agent: panic recovered", "agent", name, "panic", r)
			res = Failed(name, fmt.Errorf("%s: panic: %v", name, r))
		}
	}()
	return fn()
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
