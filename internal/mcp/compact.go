package mcp

import (
	"math"

	"github.com/ashita-ai/mathmentor/internal/model"
)

const maxCompactSolution = 2000

// compactRun is the tool-facing shape of a run: the status, the message a
// caller should act on and the solution artifacts. Stage traces, retrieved
// documents and timestamps are left out.
func compactRun(v model.RunView) map[string]any {
	m := map[string]any{
		"run_id":    v.ID,
		"status":    v.Status,
		"success":   v.Success,
		"message":   v.Message,
		"persisted": v.Persisted,
	}
	if v.ParentID != nil {
		m["parent_id"] = v.ParentID
	}
	if v.Confidence != nil {
		m["confidence"] = round3(*v.Confidence)
		m["confidence_label"] = v.ConfidenceLabel
	}
	if v.ParsedProblem != nil && v.ParsedProblem.Topic != "" {
		m["topic"] = v.ParsedProblem.Topic
	}
	if v.Solution != nil {
		m["answer"] = v.Solution.Answer
		m["solution"] = truncate(v.Solution.Text, maxCompactSolution)
	}
	if v.Verification != nil {
		m["checks_passed"] = v.Verification.Passed
		m["checks_total"] = v.Verification.Total
	}
	if v.Explanation != nil {
		m["explanation"] = v.Explanation
	}
	if v.Reason != "" {
		m["reason"] = v.Reason
	}
	return m
}

func compactSimilar(sims []model.SimilarSolution) []map[string]any {
	out := make([]map[string]any, 0, len(sims))
	for _, s := range sims {
		out = append(out, map[string]any{
			"problem":    s.Problem,
			"solution":   truncate(s.Solution, maxCompactSolution),
			"similarity": round3(s.Similarity),
		})
	}
	return out
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
