package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Verdict is a human judgment on a stored outcome.
type Verdict string

const (
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
	VerdictUnclear   Verdict = "unclear"
)

// ParseVerdict validates a verdict string.
func ParseVerdict(s string) (Verdict, error) {
	switch v := Verdict(strings.ToLower(strings.TrimSpace(s))); v {
	case VerdictCorrect, VerdictIncorrect, VerdictUnclear:
		return v, nil
	}
	return "", fmt.Errorf("model: verdict must be one of correct, incorrect, unclear (got %q)", s)
}

// MaxCommentLen bounds feedback comments.
const MaxCommentLen = 8 * 1024

// minCorrectionLen is the rune count above which a comment on an incorrect
// outcome is treated as a corrected solution.
const minCorrectionLen = 10

// Feedback is attached to an outcome after the fact.
type Feedback struct {
	Verdict    Verdict   `json:"feedback"`
	Comment    string    `json:"comment,omitempty"`
	RecordedAt time.Time `json:"timestamp"`
}

// Correction returns the comment when it reads as a corrected solution.
func (f Feedback) Correction() (string, bool) {
	c := strings.TrimSpace(f.Comment)
	if utf8.RuneCountInString(c) > minCorrectionLen {
		return c, true
	}
	return "", false
}

// Outcome is the durable record of a successful (or reviewer-approved) run.
type Outcome struct {
	ID                 uuid.UUID     `json:"id"`
	ProblemText        string        `json:"problem_text"`
	Topic              string        `json:"topic"`
	SolutionText       string        `json:"solution_text"`
	Answer             string        `json:"answer"`
	Confidence         float64       `json:"confidence"`
	InputMode          InputMode     `json:"input_mode"`
	ModalityConfidence *float64      `json:"modality_confidence,omitempty"`
	VerifierDetail     []CheckResult `json:"verifier_detail,omitempty"`
	ReviewedBy         string        `json:"reviewed_by,omitempty"`
	UserFeedback       *Feedback     `json:"user_feedback,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// ReusableSolution applies the feedback policy for memory retrieval:
// incorrect outcomes are hidden unless the feedback carries a correction,
// in which case the correction replaces the stored solution.
func (o Outcome) ReusableSolution() (string, bool) {
	if o.UserFeedback == nil || o.UserFeedback.Verdict != VerdictIncorrect {
		return o.SolutionText, true
	}
	if c, ok := o.UserFeedback.Correction(); ok {
		return "Corrected Solution: " + c, true
	}
	return "", false
}

// ErrNotPersistable is returned when an outcome is requested for a run that
// did not finish successfully.
var ErrNotPersistable = errors.New("model: run is not persistable")

// OutcomeFromRun builds the outcome for a completed, successful run.
func OutcomeFromRun(r *RunState) (Outcome, error) {
	if r == nil || r.Status != RunStatusCompleted || !r.Success {
		return Outcome{}, ErrNotPersistable
	}
	return buildOutcome(r, nil), nil
}

// ApprovedOutcome builds the outcome for a run a reviewer accepted at the
// human review checkpoint. A non-nil editedSolution replaces the solver text.
func ApprovedOutcome(r *RunState, reviewer string, editedSolution *string) (Outcome, error) {
	if r == nil || r.Status != RunStatusHumanReviewRequired || r.Solution == nil {
		return Outcome{}, ErrNotPersistable
	}
	o := buildOutcome(r, editedSolution)
	o.ReviewedBy = reviewer
	return o, nil
}

func buildOutcome(r *RunState, editedSolution *string) Outcome {
	o := Outcome{
		ID:                 r.ID,
		ProblemText:        r.ProblemText,
		Topic:              r.Topic(),
		InputMode:          r.InputMode,
		ModalityConfidence: r.ModalityConfidence,
		CreatedAt:          time.Now().UTC(),
	}
	if r.Solution != nil {
		o.SolutionText = r.Solution.Text
		o.Answer = r.Solution.Answer
	}
	if editedSolution != nil {
		o.SolutionText = *editedSolution
		o.Answer = TruncateAnswer(*editedSolution)
	}
	if r.Confidence != nil {
		o.Confidence = *r.Confidence
	}
	if r.Verification != nil {
		o.VerifierDetail = r.Verification.Checks
	}
	return o
}

// AnswerLen is the rune length of the short answer kept alongside a solution.
const AnswerLen = 200

// TruncateAnswer returns the first AnswerLen runes of solution.
func TruncateAnswer(solution string) string {
	if utf8.RuneCountInString(solution) <= AnswerLen {
		return solution
	}
	return string([]rune(solution)[:AnswerLen])
}

// Statistics summarizes the outcome store. SuccessRate is a percentage
// computed from explicit feedback only; it is 0 when no correct or
// incorrect feedback exists.
type Statistics struct {
	SolvedCount    int             `json:"problems_solved"`
	SuccessRate    float64         `json:"success_rate"`
	AvgConfidence  float64         `json:"avg_confidence"`
	CorrectCount   int             `json:"correct_count"`
	IncorrectCount int             `json:"incorrect_count"`
	Topics         []TopicProgress `json:"topics,omitempty"`
}

// TopicProgress is the per-topic breakdown of Statistics.
type TopicProgress struct {
	Topic          string  `json:"topic"`
	SolvedCount    int     `json:"problems_solved"`
	CorrectCount   int     `json:"correct_count"`
	IncorrectCount int     `json:"incorrect_count"`
	AvgConfidence  float64 `json:"avg_confidence"`
}

// FeedbackSuccessRate is correct/(correct+incorrect) as a percentage, or 0.
func FeedbackSuccessRate(correct, incorrect int) float64 {
	total := correct + incorrect
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total) * 100
}
