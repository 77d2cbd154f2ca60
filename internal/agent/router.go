package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashita-ai/mathmentor/internal/llm"
	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/structured"
)

const routerConfidence = 0.9

// RouterDefault is the routing used when the model output cannot be decoded.
func RouterDefault(string) model.Routing {
	return model.Routing{
		Topic:       model.TopicAlgebra,
		Subtopic:    "general",
		Difficulty:  "medium",
		Strategy:    "symbolic",
		ToolsNeeded: []string{"sympy"},
		Reasoning:   "Defaulting to symbolic solver due to router parsing error.",
	}
}

// Router classifies the parsed problem and picks a solving strategy.
type Router struct {
	llm    llm.Gateway
	logger *slog.Logger
}

// NewRouter creates the router stage.
func NewRouter(gw llm.Gateway, logger *slog.Logger) *Router {
	return &Router{llm: gw, logger: orDefault(logger)}
}

func (r *Router) Name() string { return model.StageRouter }

func (r *Router) Execute(ctx context.Context, in Input) model.AgentResult {
	return guard(r.logger, r.Name(), func() model.AgentResult {
		resp, err := r.llm.Invoke(ctx, routerPrompt(in.Statement()))
		if err != nil {
			return Failed(r.Name(), fmt.Errorf("router: invoke model: %w", err))
		}
		dec := structured.Decoder[model.Routing]{Stage: r.Name(), Schema: routerSchema, Default: RouterDefault}
		res := dec.Decode(resp)
		if res.Recovered {
			r.logger.Warn("router: structured output recovered with default", "error", res.Err)
		}
		routing := res.Value
		routing.Topic = normalizeTopic(routing.Topic)
		routing.Difficulty = strings.ToLower(strings.TrimSpace(routing.Difficulty))
		if routing.Difficulty == "" {
			routing.Difficulty = "medium"
		}
		routing.Strategy = strings.ToLower(strings.TrimSpace(routing.Strategy))
		return Succeeded(r.Name(), routing, routerConfidence)
	})
}

func routerPrompt(problem string) string {
	return fmt.Sprintf(`Analyze this math problem and determine:
1. Exact topic classification
2. Difficulty level (easy/medium/hard)
3. Recommended solving strategy

Problem:
%s

Respond in JSON:
{
  "topic": "algebra/probability/calculus/linear_algebra",
  "subtopic": "exact subtopic",
  "difficulty": "easy/medium/hard",
  "strategy": "symbolic/numerical/graphical/heuristic",
  "tools_needed": ["sympy", "numpy"],
  "reasoning": "why this strategy"
}`, problem)
}
