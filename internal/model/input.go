package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// InputMode identifies how the problem reached the system.
type InputMode string

const (
	InputModeText  InputMode = "text"
	InputModeImage InputMode = "image"
	InputModeAudio InputMode = "audio"
)

// ParseInputMode validates a mode string. Empty means text.
func ParseInputMode(s string) (InputMode, error) {
	switch m := InputMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return InputModeText, nil
	case InputModeText, InputModeImage, InputModeAudio:
		return m, nil
	}
	return "", fmt.Errorf("model: unknown input mode %q", s)
}

// MaxProblemTextLen bounds the problem statement accepted from callers.
const MaxProblemTextLen = 16 * 1024

// Input is what a caller hands the orchestrator to start a run.
type Input struct {
	ProblemText        string
	InputMode          InputMode
	ModalityConfidence *float64
	// ParentID links a clarification resubmission to the run it answers.
	ParentID *uuid.UUID
}

// Mode returns the input mode, defaulting to text.
func (in Input) Mode() InputMode {
	if in.InputMode == "" {
		return InputModeText
	}
	return in.InputMode
}

// Validate checks caller-supplied fields. Blank problem text is allowed:
// the parser turns it into a clarification request.
func (in Input) Validate() error {
	if _, err := ParseInputMode(string(in.InputMode)); err != nil {
		return err
	}
	if len(in.ProblemText) > MaxProblemTextLen {
		return fmt.Errorf("problem_text exceeds maximum length of %d bytes", MaxProblemTextLen)
	}
	if c := in.ModalityConfidence; c != nil && (*c < 0 || *c > 1) {
		return fmt.Errorf("modality_confidence must be between 0 and 1")
	}
	return nil
}

// ImageExtraction is the output of an upstream OCR processor.
type ImageExtraction struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// AudioTranscript is the output of an upstream speech recognizer.
type AudioTranscript struct {
	Text       string   `json:"text"`
	Language   string   `json:"language"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// FromImage converts OCR output into run input.
func FromImage(img ImageExtraction) Input {
	c := clamp01(img.Confidence)
	return Input{ProblemText: strings.TrimSpace(img.Text), InputMode: InputModeImage, ModalityConfidence: &c}
}

// FromAudio converts a transcript into run input. Language is informational only.
func FromAudio(a AudioTranscript) Input {
	in := Input{ProblemText: strings.TrimSpace(a.Text), InputMode: InputModeAudio}
	if a.Confidence != nil {
		c := clamp01(*a.Confidence)
		in.ModalityConfidence = &c
	}
	return in
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
