package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/mathmentor/internal/llm"
	"github.com/ashita-ai/mathmentor/internal/model"
)

const explainerConfidence = 0.9

// Explainer writes a student-facing explanation of a verified solution.
type Explainer struct {
	llm    llm.Gateway
	logger *slog.Logger
}

// NewExplainer creates the explainer stage.
func NewExplainer(gw llm.Gateway, logger *slog.Logger) *Explainer {
	return &Explainer{llm: gw, logger: orDefault(logger)}
}

func (e *Explainer) Name() string { return model.StageExplainer }

func (e *Explainer) Execute(ctx context.Context, in Input) model.AgentResult {
	return guard(e.logger, e.Name(), func() model.AgentResult {
		if in.Solution == nil {
			return Failed(e.Name(), errors.New("explainer: no solution to explain"))
		}
		resp, err := e.llm.Invoke(ctx, explainerPrompt(in.Statement(), in.Solution.Answer))
		if err != nil {
			return Failed(e.Name(), fmt.Errorf("explainer: invoke model: %w", err))
		}
		return Succeeded(e.Name(), model.Explanation{Text: resp}, explainerConfidence)
	})
}

func explainerPrompt(problem, answer string) string {
	return fmt.Sprintf(`Explain this solution to a student in simple terms.

Problem: %s
Answer: %s

Create a clear explanation with:
1. Problem Understanding - What is being asked?
2. Solution Strategy - How to approach this?
3. Step-by-Step - Each step explained simply
4. Key Concepts - Important ideas to remember
5. Why This Works - Conceptual reasoning
6. Related Problems - Similar problem types
7. Common Mistakes - What to avoid`, problem, answer)
}
