package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashita-ai/mathmentor/internal/llm"
	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/structured"
)

// Clarification messages.
const (
	MsgUnparseable = "Could not parse problem clearly"
	MsgAmbiguous   = "The problem statement is ambiguous. Please clarify."
	MsgEmpty       = "Please enter a math problem to solve."
)

// DefaultClarityThreshold is the clarity below which the parser asks for
// clarification.
const DefaultClarityThreshold = 0.8

const defaultClarity = 0.5

// parsedWire is the JSON shape requested from the model.
type parsedWire struct {
	ProblemText          string   `json:"problem_text"`
	Topic                string   `json:"topic"`
	Subtopic             string   `json:"subtopic"`
	Variables            []string `json:"variables"`
	Constraints          []string `json:"constraints"`
	NeedsClarification   bool     `json:"needs_clarification"`
	ClarificationMessage string   `json:"clarification_message"`
	ClarityScore         *float64 `json:"clarity_score"`
}

// ParserDefault is the payload used when the model output cannot be
// decoded: the raw input becomes the problem text and clarification is
// requested.
func ParserDefault(raw string) model.ParsedProblem {
	return model.ParsedProblem{
		ProblemText:          raw,
		Topic:                model.TopicUnknown,
		Subtopic:             model.TopicUnknown,
		Variables:            []string{},
		Constraints:          []string{},
		Clarity:              defaultClarity,
		NeedsClarification:   true,
		ClarificationMessage: MsgUnparseable,
	}
}

// Parser turns raw input into a ParsedProblem.
type Parser struct {
	llm              llm.Gateway
	clarityThreshold float64
	logger           *slog.Logger
}

// NewParser creates the parser stage. A threshold <= 0 uses the default.
func NewParser(gw llm.Gateway, clarityThreshold float64, logger *slog.Logger) *Parser {
	if clarityThreshold <= 0 {
		clarityThreshold = DefaultClarityThreshold
	}
	return &Parser{llm: gw, clarityThreshold: clarityThreshold, logger: orDefault(logger)}
}

func (p *Parser) Name() string { return model.StageParser }

func (p *Parser) Execute(ctx context.Context, in Input) model.AgentResult {
	return guard(p.logger, p.Name(), func() model.AgentResult {
		raw := in.ProblemText
		if strings.TrimSpace(raw) == "" {
			parsed := ParserDefault(raw)
			parsed.Clarity = 0
			parsed.ClarificationMessage = MsgEmpty
			return Succeeded(p.Name(), parsed, 0)
		}

		resp, err := p.llm.Invoke(ctx, parserPrompt(raw))
		if err != nil {
			return Failed(p.Name(), fmt.Errorf("parser: invoke model: %w", err))
		}
		parsed := p.decode(raw, resp)
		return Succeeded(p.Name(), parsed, parsed.Clarity)
	})
}

func (p *Parser) decode(raw, resp string) model.ParsedProblem {
	dec := structured.Decoder[parsedWire]{Stage: p.Name(), Schema: parserSchema}
	res := dec.Decode(resp)
	if res.Recovered {
		p.logger.Warn("parser: structured output recovered with default", "error", res.Err)
		return ParserDefault(raw)
	}
	w := res.Value
	parsed := model.ParsedProblem{
		ProblemText:          w.ProblemText,
		Topic:                normalizeTopic(w.Topic),
		Subtopic:             strings.TrimSpace(w.Subtopic),
		Variables:            w.Variables,
		Constraints:          w.Constraints,
		Clarity:              defaultClarity,
		NeedsClarification:   w.NeedsClarification,
		ClarificationMessage: w.ClarificationMessage,
	}
	if strings.TrimSpace(parsed.ProblemText) == "" {
		parsed.ProblemText = raw
	}
	if w.ClarityScore != nil {
		parsed.Clarity = clamp(*w.ClarityScore)
	}
	if len(parsed.Variables) == 0 {
		parsed.Variables = ExtractVariables(parsed.ProblemText)
	}
	if parsed.Constraints == nil {
		parsed.Constraints = []string{}
	}
	if parsed.Clarity < p.clarityThreshold {
		parsed.NeedsClarification = true
		parsed.ClarificationMessage = MsgAmbiguous
	}
	if parsed.NeedsClarification && parsed.ClarificationMessage == "" {
		parsed.ClarificationMessage = MsgAmbiguous
	}
	return parsed
}

func normalizeTopic(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.NewReplacer(" ", "_", "-", "_").Replace(t)
	if t == "" {
		return model.TopicUnknown
	}
	return t
}

func parserPrompt(raw string) string {
	return fmt.Sprintf(`You are a data extraction system.

TASK: Extract the math problem from the INPUT TEXT below.

INPUT TEXT:
%q

INSTRUCTIONS:
1. "problem_text" must contain the exact content of INPUT TEXT. Do not paraphrase.
2. "topic" is one of algebra, probability, calculus, linear_algebra, unknown.
3. Assign a "clarity_score" between 0.0 and 1.0 (1.0 = perfectly clear).

Respond in JSON:
{
  "problem_text": "...",
  "topic": "...",
  "subtopic": "...",
  "variables": [],
  "constraints": [],
  "needs_clarification": false,
  "clarification_message": "",
  "clarity_score": 0.95
}`, raw)
}
