package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashita-ai/mathmentor/internal/llm"
	"github.com/ashita-ai/mathmentor/internal/model"
)

const solverConfidence = 0.85

// Solver produces a worked solution from the problem, its topic, the
// retrieved knowledge and similar past solutions.
type Solver struct {
	llm    llm.Gateway
	logger *slog.Logger
}

// NewSolver creates the solver stage.
func NewSolver(gw llm.Gateway, logger *slog.Logger) *Solver {
	return &Solver{llm: gw, logger: orDefault(logger)}
}

func (s *Solver) Name() string { return model.StageSolver }

func (s *Solver) Execute(ctx context.Context, in Input) model.AgentResult {
	return guard(s.logger, s.Name(), func() model.AgentResult {
		resp, err := s.llm.Invoke(ctx, solverPrompt(in))
		if err != nil {
			return Failed(s.Name(), fmt.Errorf("solver: invoke model: %w", err))
		}
		tools := []string{"llm"}
		if len(in.Documents) > 0 {
			tools = append(tools, "rag")
		}
		if len(in.Similar) > 0 {
			tools = append(tools, "memory")
		}
		sol := model.Solution{
			Text:      resp,
			Answer:    model.TruncateAnswer(resp),
			Steps:     ParseSteps(resp),
			ToolsUsed: tools,
		}
		return Succeeded(s.Name(), sol, solverConfidence)
	})
}

// ParseSteps numbers the lines that mention a step. A response without
// such lines becomes a single step.
func ParseSteps(resp string) []model.Step {
	var steps []model.Step
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(strings.ToLower(line), "step") {
			continue
		}
		steps = append(steps, model.Step{Number: len(steps) + 1, Description: line})
	}
	if len(steps) == 0 {
		return []model.Step{{Number: 1, Description: strings.TrimSpace(resp)}}
	}
	return steps
}

func solverPrompt(in Input) string {
	var sb strings.Builder
	sb.WriteString("You are an expert mathematics tutor. Solve this problem step by step.\n\n")
	fmt.Fprintf(&sb, "Problem: %s\nTopic: %s\n", in.ProblemText, in.Topic())
	if in.Routing != nil && in.Routing.Strategy != "" {
		fmt.Fprintf(&sb, "Suggested strategy: %s\n", in.Routing.Strategy)
	}
	if len(in.Documents) > 0 {
		sb.WriteString("\nRelevant knowledge:\n")
		for i, d := range in.Documents {
			fmt.Fprintf(&sb, "Source %d: %s\n%s\n\n", i+1, d.Source, d.Content)
		}
	}
	if len(in.Similar) > 0 {
		sb.WriteString("\nSimilar Solved Problems:\n")
		for _, p := range in.Similar {
			fmt.Fprintf(&sb, "Problem: %s\nSolution: %s\n---\n", p.Problem, p.Solution)
		}
	}
	sb.WriteString(`
Provide:
1. Problem breakdown
2. Solution strategy
3. Step-by-step solution
4. Verification
5. Key insights

Format your response in clear sections.`)
	return sb.String()
}
