// Package model defines the core domain types for mathmentor.
//
// RunState is the single record threaded through one problem-solving run.
// Payload types (ParsedProblem, Routing, Solution, ...) correspond to the
// stage outputs, and Outcome is the durable record of a completed run.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a problem-solving run.
type RunStatus string

const (
	RunStatusProcessing          RunStatus = "processing"
	RunStatusNeedsClarification  RunStatus = "needs_clarification"
	RunStatusHumanReviewRequired RunStatus = "human_review_required"
	RunStatusCompleted           RunStatus = "completed"
	RunStatusError               RunStatus = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusNeedsClarification, RunStatusHumanReviewRequired, RunStatusCompleted, RunStatusError:
		return true
	}
	return false
}

// Gated reports whether s is a HITL checkpoint status.
func (s RunStatus) Gated() bool {
	return s == RunStatusNeedsClarification || s == RunStatusHumanReviewRequired
}

// ParseRunStatus validates a status string.
func ParseRunStatus(s string) (RunStatus, error) {
	switch st := RunStatus(s); st {
	case RunStatusProcessing, RunStatusNeedsClarification, RunStatusHumanReviewRequired,
		RunStatusCompleted, RunStatusError:
		return st, nil
	}
	return "", fmt.Errorf("model: unknown run status %q", s)
}

var (
	// ErrInvalidTransition is returned when a status change would move a run backwards.
	ErrInvalidTransition = errors.New("model: invalid status transition")
	// ErrFieldAlreadySet is returned when a write-once RunState field is written twice.
	ErrFieldAlreadySet = errors.New("model: field already set")
)

// Stage names. They double as keys in RunState.StageOutputs.
const (
	StageGuardrail = "guardrail"
	StageParser    = "parser"
	StageRouter    = "router"
	StageRetrieve  = "retrieve"
	StageSolver    = "solver"
	StageVerifier  = "verifier"
	StageExplainer = "explainer"
	StageEvaluator = "evaluator"
)

// StageOutput pairs a stage name with the result it produced.
type StageOutput struct {
	Stage  string      `json:"stage"`
	Result AgentResult `json:"result"`
}

// RunState is the mutable record threaded through one run. It is owned by a
// single orchestrator invocation and never shared between runs.
type RunState struct {
	ID                 uuid.UUID  `json:"id"`
	ParentID           *uuid.UUID `json:"parent_id,omitempty"`
	ProblemText        string     `json:"problem_text"`
	InputMode          InputMode  `json:"input_mode"`
	ModalityConfidence *float64   `json:"modality_confidence,omitempty"`
	Status             RunStatus  `json:"status"`
	Success            bool       `json:"success"`

	StageOutputs []StageOutput `json:"stage_outputs"`

	ParsedProblem      *ParsedProblem    `json:"parsed_problem,omitempty"`
	Routing            *Routing          `json:"routing,omitempty"`
	RetrievedDocuments []Document        `json:"retrieved_documents,omitempty"`
	SimilarSolutions   []SimilarSolution `json:"similar_solutions,omitempty"`
	Solution           *Solution         `json:"solution,omitempty"`
	Verification       *Verification     `json:"verification,omitempty"`
	Explanation        *Explanation      `json:"explanation,omitempty"`
	Evaluation         *Evaluation       `json:"evaluation,omitempty"`

	Confidence           *float64 `json:"confidence,omitempty"`
	Reason               string   `json:"reason,omitempty"`
	ClarificationMessage string   `json:"clarification_message,omitempty"`
	Error                string   `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	retrieved bool
	similar   bool
}

// NewRunState starts a run in the processing state with a fresh ID.
func NewRunState(in Input) *RunState {
	return &RunState{
		ID:                 uuid.New(),
		ParentID:           in.ParentID,
		ProblemText:        in.ProblemText,
		InputMode:          in.Mode(),
		ModalityConfidence: in.ModalityConfidence,
		Status:             RunStatusProcessing,
		StageOutputs:       []StageOutput{},
		StartedAt:          time.Now().UTC(),
	}
}

// Transition moves the run to next. Processing may move to any terminal
// status; terminal statuses never change.
func (r *RunState) Transition(next RunStatus) error {
	if r.Status == next {
		return nil
	}
	if r.Status.Terminal() || next == RunStatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	return nil
}

// Record appends a stage result. Each stage may be recorded once.
func (r *RunState) Record(stage string, res AgentResult) error {
	if _, ok := r.StageResult(stage); ok {
		return fmt.Errorf("%w: stage output %s", ErrFieldAlreadySet, stage)
	}
	r.StageOutputs = append(r.StageOutputs, StageOutput{Stage: stage, Result: res})
	return nil
}

// StageResult returns the recorded result for stage.
func (r *RunState) StageResult(stage string) (AgentResult, bool) {
	for _, so := range r.StageOutputs {
		if so.Stage == stage {
			return so.Result, true
		}
	}
	return AgentResult{}, false
}

// Stages returns the recorded stage names in execution order.
func (r *RunState) Stages() []string {
	names := make([]string, len(r.StageOutputs))
	for i, so := range r.StageOutputs {
		names[i] = so.Stage
	}
	return names
}

func setOnce[T any](dst **T, v T, field string) error {
	if *dst != nil {
		return fmt.Errorf("%w: %s", ErrFieldAlreadySet, field)
	}
	*dst = &v
	return nil
}

// SetParsedProblem writes the parser output.
func (r *RunState) SetParsedProblem(p ParsedProblem) error {
	return setOnce(&r.ParsedProblem, p, "parsed_problem")
}

// SetRouting writes the router output.
func (r *RunState) SetRouting(rt Routing) error { return setOnce(&r.Routing, rt, "routing") }

// SetSolution writes the solver output.
func (r *RunState) SetSolution(s Solution) error { return setOnce(&r.Solution, s, "solution") }

// SetVerification writes the verifier output and the run confidence.
func (r *RunState) SetVerification(v Verification, confidence float64) error {
	if r.Confidence != nil {
		return fmt.Errorf("%w: confidence", ErrFieldAlreadySet)
	}
	if err := setOnce(&r.Verification, v, "verification"); err != nil {
		return err
	}
	r.Confidence = &confidence
	return nil
}

// SetExplanation writes the explainer output.
func (r *RunState) SetExplanation(e Explanation) error {
	return setOnce(&r.Explanation, e, "explanation")
}

// SetEvaluation writes the evaluator output.
func (r *RunState) SetEvaluation(e Evaluation) error {
	return setOnce(&r.Evaluation, e, "evaluation")
}

// SetRetrievedDocuments writes the knowledge base hits. An empty result
// still counts as written.
func (r *RunState) SetRetrievedDocuments(docs []Document) error {
	if r.retrieved {
		return fmt.Errorf("%w: retrieved_documents", ErrFieldAlreadySet)
	}
	r.retrieved = true
	r.RetrievedDocuments = docs
	return nil
}

// SetSimilarSolutions writes the memory hits used by the solver.
func (r *RunState) SetSimilarSolutions(sols []SimilarSolution) error {
	if r.similar {
		return fmt.Errorf("%w: similar_solutions", ErrFieldAlreadySet)
	}
	r.similar = true
	r.SimilarSolutions = sols
	return nil
}

// RequireReview moves the run to human_review_required with a reason.
func (r *RunState) RequireReview(reason string) error {
	if err := r.Transition(RunStatusHumanReviewRequired); err != nil {
		return err
	}
	r.Reason = reason
	return nil
}

// RequireClarification moves the run to needs_clarification.
func (r *RunState) RequireClarification(message string) error {
	if err := r.Transition(RunStatusNeedsClarification); err != nil {
		return err
	}
	r.ClarificationMessage = message
	return nil
}

// Fail moves the run to the error status. A run that already reached a
// terminal status keeps it; the error message is still recorded.
func (r *RunState) Fail(err error) {
	if err == nil {
		return
	}
	if r.Error == "" {
		r.Error = err.Error()
	}
	if !r.Status.Terminal() {
		r.Status = RunStatusError
	}
	r.Success = false
}

// Finalize closes the run: processing becomes completed with success, gated
// statuses finish without success. It is idempotent.
func (r *RunState) Finalize() {
	if r.FinishedAt == nil {
		now := time.Now().UTC()
		r.FinishedAt = &now
	}
	switch r.Status {
	case RunStatusProcessing:
		r.Status = RunStatusCompleted
		r.Success = true
	case RunStatusCompleted:
		r.Success = true
	default:
		r.Success = false
	}
}

// Topic returns the best known topic for the run: routing first, then parser.
func (r *RunState) Topic() string {
	if r.Routing != nil && r.Routing.Topic != "" {
		return r.Routing.Topic
	}
	if r.ParsedProblem != nil && r.ParsedProblem.Topic != "" {
		return r.ParsedProblem.Topic
	}
	return TopicUnknown
}

// Duration returns the wall time of a finished run.
func (r *RunState) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
