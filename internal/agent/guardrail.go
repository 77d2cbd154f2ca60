package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/ashita-ai/mathmentor/internal/model"
)

// Guardrail check names.
const (
	CheckMathContent = "is_math_problem"
	CheckScope       = "is_in_scope"
	CheckLength      = "is_appropriate_length"
	CheckInjection   = "no_prompt_injection"
)

var mathVocabulary = []string{
	"equation", "solve", "calculate", "find", "prove", "integral",
	"derivative", "probability", "matrix", "x", "y", "z", "=", "+", "-",
}

var injectionMarkers = []string{"ignore", "forget", "system prompt", "you are now", "pretend"}

const minProblemLen = 10

// GuardrailReport is the guardrail payload.
type GuardrailReport struct {
	Checks        []model.CheckResult `json:"checks"`
	SafeToProceed bool                `json:"safe_to_proceed"`
}

// Failed returns the names of the checks that did not pass.
func (r GuardrailReport) Failed() []string {
	var names []string
	for _, c := range r.Checks {
		if !c.Passed {
			names = append(names, c.Name)
		}
	}
	return names
}

// Guardrail screens the raw input with deterministic checks. Its confidence
// is always 1.
type Guardrail struct {
	logger *slog.Logger
}

// NewGuardrail creates the guardrail stage.
func NewGuardrail(logger *slog.Logger) *Guardrail {
	return &Guardrail{logger: orDefault(logger)}
}

func (g *Guardrail) Name() string { return model.StageGuardrail }

func (g *Guardrail) Execute(_ context.Context, in Input) model.AgentResult {
	return guard(g.logger, g.Name(), func() model.AgentResult {
		report := Screen(in.ProblemText, in.Topic())
		if report.SafeToProceed {
			return Succeeded(g.Name(), report, 1)
		}
		err := errors.New("guardrail: failed checks: " + strings.Join(report.Failed(), ", "))
		return Rejected(g.Name(), report, 1, err)
	})
}

// Screen runs the four guardrail checks. An empty topic counts as unknown.
func Screen(text, topic string) GuardrailReport {
	lower := strings.ToLower(text)
	if topic == "" {
		topic = model.TopicUnknown
	}
	checks := []model.CheckResult{
		{Name: CheckMathContent, Passed: containsAny(lower, mathVocabulary), Details: "math vocabulary or operators"},
		{Name: CheckScope, Passed: model.SupportedTopic(topic), Details: "topic " + topic},
		{Name: CheckLength, Passed: len(text) > minProblemLen, Details: "longer than 10 characters"},
		{Name: CheckInjection, Passed: !containsAny(lower, injectionMarkers), Details: "no prompt injection markers"},
	}
	safe := true
	for _, c := range checks {
		safe = safe && c.Passed
	}
	return GuardrailReport{Checks: checks, SafeToProceed: safe}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
