package mathmentor

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses. Every call that runs the pipeline returns a Run in one of
// the terminal statuses.
const (
	StatusNeedsClarification  = "needs_clarification"
	StatusHumanReviewRequired = "human_review_required"
	StatusCompleted           = "completed"
	StatusError               = "error"
)

// Feedback verdicts.
const (
	VerdictCorrect   = "correct"
	VerdictIncorrect = "incorrect"
	VerdictUnclear   = "unclear"
)

// Token is the response of POST /auth/token.
type Token struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SolveRequest submits a problem. InputMode defaults to "text";
// ModalityConfidence is the extraction confidence for image or audio input.
type SolveRequest struct {
	ProblemText        string   `json:"problem_text"`
	InputMode          string   `json:"input_mode,omitempty"`
	ModalityConfidence *float64 `json:"modality_confidence,omitempty"`
}

// Step is one numbered solution step.
type Step struct {
	Number      int    `json:"step"`
	Description string `json:"description"`
	Result      string `json:"result,omitempty"`
}

// Solution is the solver's answer.
type Solution struct {
	Text      string   `json:"solution"`
	Answer    string   `json:"answer"`
	Steps     []Step   `json:"steps"`
	ToolsUsed []string `json:"tools_used,omitempty"`
}

// Check is one verifier check.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

// Verification summarizes the verifier checks.
type Verification struct {
	Checks    []Check `json:"checks"`
	Passed    int     `json:"passed"`
	Total     int     `json:"total"`
	Aggregate float64 `json:"aggregate"`
	IsCorrect bool    `json:"is_correct"`
}

// Routing is the router's classification.
type Routing struct {
	Topic      string `json:"topic"`
	Subtopic   string `json:"subtopic"`
	Difficulty string `json:"difficulty"`
	Strategy   string `json:"strategy"`
}

// Explanation is the student-facing walkthrough.
type Explanation struct {
	Text string `json:"explanation"`
}

// Run is a pipeline run as the server presents it.
type Run struct {
	ID                   uuid.UUID         `json:"id"`
	ParentID             *uuid.UUID        `json:"parent_id,omitempty"`
	ProblemText          string            `json:"problem_text"`
	InputMode            string            `json:"input_mode"`
	Status               string            `json:"status"`
	Success              bool              `json:"success"`
	Routing              *Routing          `json:"routing,omitempty"`
	SimilarSolutions     []SimilarSolution `json:"similar_solutions,omitempty"`
	Solution             *Solution         `json:"solution,omitempty"`
	Verification         *Verification     `json:"verification,omitempty"`
	Explanation          *Explanation      `json:"explanation,omitempty"`
	Confidence           *float64          `json:"confidence,omitempty"`
	ConfidenceLabel      string            `json:"confidence_label,omitempty"`
	Reason               string            `json:"reason,omitempty"`
	ClarificationMessage string            `json:"clarification_message,omitempty"`
	Error                string            `json:"error,omitempty"`
	Message              string            `json:"message"`
	Persisted            bool              `json:"persisted"`
	StartedAt            time.Time         `json:"started_at"`
	FinishedAt           *time.Time        `json:"finished_at,omitempty"`
}

// NeedsClarification reports whether the run is waiting for a restated
// problem via Clarify.
func (r *Run) NeedsClarification() bool { return r.Status == StatusNeedsClarification }

// NeedsReview reports whether the run is waiting for a reviewer's Approve.
func (r *Run) NeedsReview() bool { return r.Status == StatusHumanReviewRequired }

// Feedback is the latest user verdict on an outcome.
type Feedback struct {
	Verdict    string    `json:"feedback"`
	Comment    string    `json:"comment,omitempty"`
	RecordedAt time.Time `json:"timestamp"`
}

// Outcome is a stored, verified solution. Its ID is the run ID.
type Outcome struct {
	ID           uuid.UUID `json:"id"`
	ProblemText  string    `json:"problem_text"`
	Topic        string    `json:"topic"`
	SolutionText string    `json:"solution_text"`
	Answer       string    `json:"answer"`
	Confidence   float64   `json:"confidence"`
	InputMode    string    `json:"input_mode"`
	ReviewedBy   string    `json:"reviewed_by,omitempty"`
	UserFeedback *Feedback `json:"user_feedback,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SimilarSolution is a stored outcome ranked by similarity to a query.
type SimilarSolution struct {
	ID         string  `json:"id,omitempty"`
	Problem    string  `json:"problem"`
	Solution   string  `json:"solution"`
	Similarity float64 `json:"similarity"`
}

// TopicProgress is the per-topic breakdown of Statistics.
type TopicProgress struct {
	Topic          string  `json:"topic"`
	SolvedCount    int     `json:"problems_solved"`
	CorrectCount   int     `json:"correct_count"`
	IncorrectCount int     `json:"incorrect_count"`
	AvgConfidence  float64 `json:"avg_confidence"`
}

// Statistics aggregates stored outcomes. SuccessRate is a percentage
// computed from feedback only.
type Statistics struct {
	SolvedCount    int             `json:"problems_solved"`
	SuccessRate    float64         `json:"success_rate"`
	AvgConfidence  float64         `json:"avg_confidence"`
	CorrectCount   int             `json:"correct_count"`
	IncorrectCount int             `json:"incorrect_count"`
	Topics         []TopicProgress `json:"topics,omitempty"`
}

// Health is the response of GET /health.
type Health struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Store         string `json:"store"`
	KnowledgeBase string `json:"knowledge_base"`
	Uptime        int64  `json:"uptime_seconds"`
}
