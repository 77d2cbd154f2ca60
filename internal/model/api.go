package model

import (
	"fmt"
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeRunFailed     = "RUN_FAILED"
)

// SolveRequest is the request body for POST /v1/solve.
type SolveRequest struct {
	ProblemText        string   `json:"problem_text"`
	InputMode          string   `json:"input_mode,omitempty"`
	ModalityConfidence *float64 `json:"modality_confidence,omitempty"`
}

// Input converts the request into orchestrator input.
func (r SolveRequest) Input() (Input, error) {
	mode, err := ParseInputMode(r.InputMode)
	if err != nil {
		return Input{}, err
	}
	in := Input{ProblemText: r.ProblemText, InputMode: mode, ModalityConfidence: r.ModalityConfidence}
	return in, in.Validate()
}

// ClarifyRequest is the request body for POST /v1/runs/{run_id}/clarify.
type ClarifyRequest struct {
	ProblemText string `json:"problem_text"`
}

// ApproveRequest is the request body for POST /v1/runs/{run_id}/approve.
type ApproveRequest struct {
	EditedSolution *string `json:"edited_solution,omitempty"`
}

// FeedbackRequest is the request body for POST /v1/outcomes/{run_id}/feedback.
type FeedbackRequest struct {
	Verdict string `json:"verdict"`
	Comment string `json:"comment,omitempty"`
}

// Validate parses the verdict and bounds the comment.
func (r FeedbackRequest) Validate() (Verdict, error) {
	v, err := ParseVerdict(r.Verdict)
	if err != nil {
		return "", err
	}
	if len(r.Comment) > MaxCommentLen {
		return "", fmt.Errorf("comment exceeds maximum length of %d bytes", MaxCommentLen)
	}
	return v, nil
}

// RunView is a RunState as presented to API and MCP callers.
type RunView struct {
	*RunState
	ConfidenceLabel string `json:"confidence_label,omitempty"`
	Message         string `json:"message"`
	Persisted       bool   `json:"persisted"`
}

// NewRunView renders the caller-facing summary of a terminal run.
func NewRunView(r *RunState, persisted bool) RunView {
	v := RunView{RunState: r, Persisted: persisted, Message: StatusMessage(r)}
	if r.Confidence != nil {
		v.ConfidenceLabel = ConfidenceLabel(*r.Confidence)
	}
	return v
}

// StatusMessage is the user-facing prompt for a terminal status: gated
// statuses ask for action, errors invite a fresh attempt.
func StatusMessage(r *RunState) string {
	switch r.Status {
	case RunStatusCompleted:
		return "Solved."
	case RunStatusNeedsClarification:
		if r.ClarificationMessage != "" {
			return r.ClarificationMessage
		}
		return "Please clarify the problem statement."
	case RunStatusHumanReviewRequired:
		return fmt.Sprintf("A reviewer must approve this solution before it is saved (%s).", r.Reason)
	case RunStatusError:
		return "Something went wrong while solving this problem. Please try again."
	}
	return string(r.Status)
}

// ConfidenceLabel buckets a confidence value: High above 0.8, Medium above
// 0.6, Low otherwise.
func ConfidenceLabel(c float64) string {
	switch {
	case c > 0.8:
		return fmt.Sprintf("High (%.1f%%)", c*100)
	case c > 0.6:
		return fmt.Sprintf("Medium (%.1f%%)", c*100)
	default:
		return fmt.Sprintf("Low (%.1f%%)", c*100)
	}
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Subject string `json:"subject"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Store         string `json:"store"`
	KnowledgeBase string `json:"knowledge_base"`
	Uptime        int64  `json:"uptime_seconds"`
}
