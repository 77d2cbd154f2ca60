package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ashita-ai/mathmentor/internal/model"
)

// DefaultCorrectThreshold is the fraction of checks that must pass for a
// solution to be marked correct. It is independent of the orchestrator's
// human review threshold.
const DefaultCorrectThreshold = 0.7

// Subject is what a verifier check inspects.
type Subject struct {
	ProblemText string
	Parsed      *model.ParsedProblem
	Solution    model.Solution
}

// Check is one pluggable verifier predicate.
type Check interface {
	Name() string
	Run(ctx context.Context, s Subject) model.CheckResult
}

// CheckFunc adapts a predicate to Check.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context, s Subject) (bool, string)
}

func (c CheckFunc) Name() string { return c.CheckName }

func (c CheckFunc) Run(ctx context.Context, s Subject) model.CheckResult {
	passed, details := c.Fn(ctx, s)
	return model.CheckResult{Name: c.CheckName, Passed: passed, Details: details}
}

// Verifier runs every check over the candidate solution. Its confidence is
// the fraction of checks that passed.
type Verifier struct {
	checks           []Check
	correctThreshold float64
	logger           *slog.Logger
}

// NewVerifier creates the verifier stage. Nil checks selects DefaultChecks;
// a threshold <= 0 uses DefaultCorrectThreshold.
func NewVerifier(checks []Check, correctThreshold float64, logger *slog.Logger) *Verifier {
	if checks == nil {
		checks = DefaultChecks()
	}
	if correctThreshold <= 0 {
		correctThreshold = DefaultCorrectThreshold
	}
	return &Verifier{checks: checks, correctThreshold: correctThreshold, logger: orDefault(logger)}
}

func (v *Verifier) Name() string { return model.StageVerifier }

func (v *Verifier) Execute(ctx context.Context, in Input) model.AgentResult {
	return guard(v.logger, v.Name(), func() model.AgentResult {
		if in.Solution == nil {
			return Failed(v.Name(), errors.New("verifier: no solution to verify"))
		}
		if len(v.checks) == 0 {
			return Failed(v.Name(), errors.New("verifier: no checks configured"))
		}
		subject := Subject{ProblemText: in.ProblemText, Parsed: in.Parsed, Solution: *in.Solution}
		ver := model.Verification{Checks: make([]model.CheckResult, 0, len(v.checks)), Total: len(v.checks)}
		for _, c := range v.checks {
			if err := ctx.Err(); err != nil {
				return Failed(v.Name(), err)
			}
			res := c.Run(ctx, subject)
			if res.Name == "" {
				res.Name = c.Name()
			}
			if res.Passed {
				ver.Passed++
			}
			ver.Checks = append(ver.Checks, res)
		}
		ver.Aggregate = float64(ver.Passed) / float64(ver.Total)
		ver.IsCorrect = float64(ver.Passed) >= v.correctThreshold*float64(ver.Total)-1e-9
		return Succeeded(v.Name(), ver, ver.Aggregate)
	})
}
