package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/mathmentor/internal/llm"
	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/structured"
)

const evaluatorConfidence = 0.85

// EvaluatorDefault is the assessment used when the model output cannot be
// decoded.
func EvaluatorDefault(string) model.Evaluation {
	return model.Evaluation{
		Correctness:     75,
		Clarity:         80,
		Completeness:    70,
		Efficiency:      75,
		Strengths:       []string{"Well-structured"},
		Improvements:    []string{"Add more detail"},
		Recommendations: []string{"Practice similar problems"},
	}
}

// Evaluator rates a finished solution and suggests follow-up practice.
// Its output is advisory and never changes the run status.
type Evaluator struct {
	llm    llm.Gateway
	logger *slog.Logger
}

// NewEvaluator creates the evaluator stage.
func NewEvaluator(gw llm.Gateway, logger *slog.Logger) *Evaluator {
	return &Evaluator{llm: gw, logger: orDefault(logger)}
}

func (e *Evaluator) Name() string { return model.StageEvaluator }

func (e *Evaluator) Execute(ctx context.Context, in Input) model.AgentResult {
	return guard(e.logger, e.Name(), func() model.AgentResult {
		if in.Solution == nil {
			return Failed(e.Name(), errors.New("evaluator: no solution to evaluate"))
		}
		resp, err := e.llm.Invoke(ctx, evaluatorPrompt(in.Statement(), in.Solution.Answer))
		if err != nil {
			return Failed(e.Name(), fmt.Errorf("evaluator: invoke model: %w", err))
		}
		dec := structured.Decoder[model.Evaluation]{Stage: e.Name(), Schema: evaluatorSchema, Default: EvaluatorDefault}
		res := dec.Decode(resp)
		if res.Recovered {
			e.logger.Warn("evaluator: structured output recovered with default", "error", res.Err)
		}
		return Succeeded(e.Name(), res.Value, evaluatorConfidence)
	})
}

func evaluatorPrompt(problem, answer string) string {
	return fmt.Sprintf(`Evaluate this math solution:
Problem: %s
Answer: %s

Respond in JSON:
{
  "correctness": 0-100,
  "clarity": 0-100,
  "completeness": 0-100,
  "efficiency": 0-100,
  "strengths": [],
  "improvements": [],
  "recommendations": []
}`, problem, answer)
}
