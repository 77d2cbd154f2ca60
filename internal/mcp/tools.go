package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mathmentor/internal/ctxutil"
	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/service/mentor"
	"github.com/ashita-ai/mathmentor/internal/storage"
)

func (s *Server) registerTools() {
	// mentor_solve: run a problem through the full pipeline.
	s.mcpServer.AddTool(
		mcplib.NewTool("mentor_solve",
			mcplib.WithDescription(`Solve a math problem step by step.

The result status is one of:
- completed: the solution passed verification; answer, solution and explanation are included.
- needs_clarification: the problem is ambiguous. Ask the user, then call mentor_clarify.
- human_review_required: the solution is uncertain and waits for a reviewer.
- error: the run failed. Retrying is reasonable.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("problem_text",
				mcplib.Description("The problem as the student wrote it"),
				mcplib.Required(),
			),
			mcplib.WithString("input_mode",
				mcplib.Description("How the text was captured"),
				mcplib.Enum(string(model.InputModeText), string(model.InputModeImage), string(model.InputModeAudio)),
			),
			mcplib.WithNumber("modality_confidence",
				mcplib.Description("OCR or transcription confidence for image and audio input (0.0-1.0)"),
				mcplib.Min(0),
				mcplib.Max(1),
			),
		),
		s.handleSolve,
	)

	// mentor_clarify: answer a needs_clarification run.
	s.mcpServer.AddTool(
		mcplib.NewTool("mentor_clarify",
			mcplib.WithDescription(`Resubmit a clarified problem for a run that returned needs_clarification.

run_id defaults to your most recent run awaiting clarification.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("problem_text",
				mcplib.Description("The complete, clarified problem statement"),
				mcplib.Required(),
			),
			mcplib.WithString("run_id",
				mcplib.Description("The run that asked for clarification"),
			),
		),
		s.handleClarify,
	)

	// mentor_approve: accept a run waiting for human review (reviewer+).
	s.mcpServer.AddTool(
		mcplib.NewTool("mentor_approve",
			mcplib.WithDescription("Approve a run in human_review_required so its solution is saved. Requires the reviewer role."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("run_id", mcplib.Description("The run to approve"), mcplib.Required()),
			mcplib.WithString("edited_solution", mcplib.Description("Replacement solution text, if the reviewer corrected it")),
		),
		s.handleApprove,
	)

	// mentor_feedback: grade a stored solution.
	s.mcpServer.AddTool(
		mcplib.NewTool("mentor_feedback",
			mcplib.WithDescription(`Record whether a saved solution was right.

An incorrect verdict with a correction in the comment keeps the solution
available to future runs, with the correction in place of the original.`),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("run_id", mcplib.Description("The completed run"), mcplib.Required()),
			mcplib.WithString("verdict",
				mcplib.Required(),
				mcplib.Enum(string(model.VerdictCorrect), string(model.VerdictIncorrect), string(model.VerdictUnclear)),
			),
			mcplib.WithString("comment", mcplib.Description("Optional note or correction")),
		),
		s.handleFeedback,
	)

	// mentor_stats: aggregate progress.
	s.mcpServer.AddTool(
		mcplib.NewTool("mentor_stats",
			mcplib.WithDescription("Problems solved, feedback success rate, average confidence and per-topic progress."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleStats,
	)

	// mentor_similar: search past solutions.
	s.mcpServer.AddTool(
		mcplib.NewTool("mentor_similar",
			mcplib.WithDescription("Find previously solved problems similar to a query."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query", mcplib.Description("A problem statement or description"), mcplib.Required()),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(20),
				mcplib.DefaultNumber(3),
			),
		),
		s.handleSimilar,
	)
}

func (s *Server) handleSolve(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.SolveRequest{
		ProblemText: request.GetString("problem_text", ""),
		InputMode:   request.GetString("input_mode", ""),
	}
	if args := request.GetArguments(); args["modality_confidence"] != nil {
		c := request.GetFloat("modality_confidence", 0)
		req.ModalityConfidence = &c
	}
	in, err := req.Input()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	res, err := s.svc.Solve(ctx, in)
	if err != nil {
		return s.serviceError("solve", err), nil
	}
	s.trackPending(ctx, res.Run)
	return jsonResult(compactRun(res.View()))
}

func (s *Server) handleClarify(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	text := request.GetString("problem_text", "")
	var parentID uuid.UUID
	if raw := request.GetString("run_id", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return errorResult("invalid run_id: " + raw), nil
		}
		parentID = id
	} else {
		id, ok := s.pending.Get(callerKey(ctx))
		if !ok {
			return errorResult("run_id is required: no recent run is awaiting clarification"), nil
		}
		parentID = id
	}

	res, err := s.svc.Clarify(ctx, parentID, text)
	if err != nil {
		return s.serviceError("clarify", err), nil
	}
	s.trackPending(ctx, res.Run)
	return jsonResult(compactRun(res.View()))
}

func (s *Server) handleApprove(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if !ctxutil.HasRole(ctx, model.RoleReviewer) {
		return errorResult("approving requires the reviewer role"), nil
	}
	id, err := uuid.Parse(request.GetString("run_id", ""))
	if err != nil {
		return errorResult("run_id must be a UUID"), nil
	}
	var edited *string
	if e := request.GetString("edited_solution", ""); e != "" {
		edited = &e
	}
	o, err := s.svc.Approve(ctx, id, ctxutil.Subject(ctx), edited)
	if err != nil {
		return s.serviceError("approve", err), nil
	}
	return jsonResult(map[string]any{
		"run_id":      o.ID,
		"status":      "approved",
		"reviewed_by": o.ReviewedBy,
	})
}

func (s *Server) handleFeedback(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("run_id", ""))
	if err != nil {
		return errorResult("run_id must be a UUID"), nil
	}
	req := model.FeedbackRequest{
		Verdict: request.GetString("verdict", ""),
		Comment: request.GetString("comment", ""),
	}
	if err := s.svc.Feedback(ctx, id, req); err != nil {
		return s.serviceError("feedback", err), nil
	}
	return jsonResult(map[string]any{"run_id": id, "status": "recorded", "verdict": req.Verdict})
}

func (s *Server) handleStats(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	st, err := s.svc.Stats(ctx)
	if err != nil {
		return s.serviceError("stats", err), nil
	}
	return jsonResult(st)
}

func (s *Server) handleSimilar(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	limit := request.GetInt("limit", 3)
	sims, err := s.svc.Similar(ctx, query, min(max(limit, 1), 20))
	if err != nil {
		return s.serviceError("similar", err), nil
	}
	return jsonResult(map[string]any{
		"results": compactSimilar(sims),
		"total":   len(sims),
	})
}

// trackPending keeps the caller's clarification target current.
func (s *Server) trackPending(ctx context.Context, r *model.RunState) {
	key := callerKey(ctx)
	if r.Status == model.RunStatusNeedsClarification {
		s.pending.Set(key, r.ID)
		return
	}
	s.pending.Clear(key)
}

// serviceError turns a service error into a tool error result. Caller
// mistakes are echoed; anything else is logged and reported generically.
func (s *Server) serviceError(op string, err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, mentor.ErrInvalidInput),
		errors.Is(err, mentor.ErrNotClarifiable),
		errors.Is(err, mentor.ErrNotReviewable):
		return errorResult(err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return errorResult("not found")
	case errors.Is(err, storage.ErrConflict):
		return errorResult("already recorded")
	}
	s.logger.Error("mcp: tool failed", "tool", op, "error", err)
	return errorResult(fmt.Sprintf("%s failed, try again", op))
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
