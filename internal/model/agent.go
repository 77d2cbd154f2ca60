package model

import "errors"

// AgentResult is the envelope every pipeline stage returns. Error is
// non-empty exactly when Success is false.
type AgentResult struct {
	Agent      string  `json:"agent"`
	Success    bool    `json:"success"`
	Data       any     `json:"data,omitempty"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Validate checks the success/error invariant and the confidence range.
func (r AgentResult) Validate() error {
	if r.Agent == "" {
		return errors.New("model: agent result without agent name")
	}
	if r.Success == (r.Error != "") {
		return errors.New("model: agent result error must be set iff success is false")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return errors.New("model: agent result confidence out of range")
	}
	return nil
}
