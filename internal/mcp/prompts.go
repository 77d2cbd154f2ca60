package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// tutor-session: system prompt snippet for an assistant acting as a tutor.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("tutor-session",
			mcplib.WithPromptDescription("How to tutor a student with the mentor tools"),
		),
		s.handleTutorSessionPrompt,
	)

	// solve-problem: walks the assistant through one problem.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("solve-problem",
			mcplib.WithPromptDescription("Solve one problem, handling clarification and review"),
			mcplib.WithArgument("problem_text",
				mcplib.ArgumentDescription("The problem as the student wrote it"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleSolveProblemPrompt,
	)
}

const tutorSessionText = `You are tutoring a student in mathematics using the mentor tools.

For every problem:
1. Call mentor_solve with the student's exact wording.
2. Read the status:
   - completed: present the explanation first, then the worked solution and the answer.
     Mention the confidence label.
   - needs_clarification: ask the student the question in "message", then call
     mentor_clarify with the full restated problem.
   - human_review_required: tell the student the solution is uncertain and is waiting
     for a human reviewer. Do not present it as correct.
   - error: apologise briefly and offer to try again.
3. After the student confirms or disputes a completed answer, call mentor_feedback
   with verdict correct or incorrect. If incorrect, put their correction in comment.

Use mentor_similar to show worked examples of related problems and mentor_stats
when the student asks how they are doing.`

func (s *Server) handleTutorSessionPrompt(_ context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Tutoring workflow for the mentor tools",
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: tutorSessionText},
			},
		},
	}, nil
}

func (s *Server) handleSolveProblemPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	problem := request.Params.Arguments["problem_text"]
	if problem == "" {
		return nil, fmt.Errorf("problem_text argument is required")
	}
	return &mcplib.GetPromptResult{
		Description: "Solve one problem",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Solve this problem for the student:

%s

CALL mentor_solve with problem_text set to the text above, unchanged.
If the status is needs_clarification, ask the student and CALL mentor_clarify.
Only present the solution as correct when the status is completed.`, problem),
				},
			},
		},
	}, nil
}
