package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mathmentor/internal/memory"
	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/service/embedding"
	"github.com/ashita-ai/mathmentor/internal/service/mentor"
	"github.com/ashita-ai/mathmentor/internal/testutil"
)

// echoRunner asks for clarification when the text contains "??" and
// otherwise solves with the text as the answer.
type echoRunner struct{}

func (echoRunner) Run(_ context.Context, in model.Input) *model.RunState {
	r := model.NewRunState(in)
	if strings.Contains(in.ProblemText, "??") {
		_ = r.SetParsedProblem(model.ParsedProblem{ProblemText: in.ProblemText, NeedsClarification: true})
		_ = r.RequireClarification("Which variable should be solved for?")
	} else {
		_ = r.SetParsedProblem(model.ParsedProblem{ProblemText: in.ProblemText, Topic: model.TopicAlgebra})
		_ = r.SetSolution(model.Solution{
			Text:   "x = 2",
			Answer: "x = 2",
			Steps:  []model.Step{{Number: 1, Description: "subtract 3", Result: "2x = 4"}, {Number: 2, Description: "divide by 2"}},
		})
		_ = r.SetVerification(model.Verification{Passed: 5, Total: 5, Aggregate: 1, IsCorrect: true}, 1)
	}
	r.Finalize()
	return r
}

func newSession(t *testing.T) *mentor.Session {
	t.Helper()
	logger := testutil.TestLogger()
	store, err := memory.OpenSQLite(context.Background(), ":memory:", embedding.NewHashProvider(32), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return mentor.NewSession(mentor.New(echoRunner{}, store, nil, mentor.Config{}, logger))
}

func TestInteractive_ClarificationFlow(t *testing.T) {
	sess := newSession(t)
	in := strings.NewReader("solve 2x + 3 = ??\n2x + 3 = 7\n:quit\nnever read\n")
	var out bytes.Buffer

	require.NoError(t, interactive(context.Background(), sess, in, &out))

	hist := sess.History()
	require.Len(t, hist, 2)
	assert.Equal(t, model.RunStatusNeedsClarification, hist[0].Run.Status)
	assert.Equal(t, model.RunStatusCompleted, hist[1].Run.Status)
	require.NotNil(t, hist[1].Run.ParentID)
	assert.Equal(t, hist[0].Run.ID, *hist[1].Run.ParentID)

	text := out.String()
	assert.Contains(t, text, "Which variable should be solved for?")
	assert.Contains(t, text, "Answer: x = 2")
	assert.NotContains(t, text, "never read")
}

func TestInteractive_ResetDropsPendingClarification(t *testing.T) {
	sess := newSession(t)
	in := strings.NewReader("what is ??\n:reset\n\n")
	var out bytes.Buffer

	require.NoError(t, interactive(context.Background(), sess, in, &out))
	assert.Nil(t, sess.Last())
}

func TestRenderRun(t *testing.T) {
	conf := 0.92
	run := &model.RunState{
		Status:      model.RunStatusCompleted,
		Routing:     &model.Routing{Topic: "algebra"},
		Solution:    &model.Solution{Answer: "x = 2", Steps: []model.Step{{Number: 1, Description: "subtract 3", Result: "2x = 4"}}},
		Explanation: &model.Explanation{Text: "Isolate x."},
		Confidence:  &conf,
	}

	tests := []struct {
		name     string
		view     model.RunView
		contains []string
		excludes []string
	}{
		{
			name:     "solved and saved",
			view:     model.NewRunView(run, true),
			contains: []string{"Topic: algebra", "1. subtract 3 => 2x = 4", "Answer: x = 2", "Isolate x.", "Confidence: High (92.0%)"},
			excludes: []string{"not saved"},
		},
		{
			name:     "solved but not saved",
			view:     model.NewRunView(run, false),
			contains: []string{"(not saved to memory)"},
		},
		{
			name:     "needs review",
			view:     model.NewRunView(&model.RunState{Status: model.RunStatusHumanReviewRequired, Reason: "low confidence"}, false),
			contains: []string{"human_review_required", "A reviewer must approve"},
			excludes: []string{"Answer:"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, renderRun(&buf, tt.view))
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStats(&buf, model.Statistics{
		SolvedCount:    4,
		SuccessRate:    75,
		CorrectCount:   3,
		IncorrectCount: 1,
		AvgConfidence:  0.88,
		Topics:         []model.TopicProgress{{Topic: "", SolvedCount: 1}},
	}))
	assert.Contains(t, buf.String(), "75.0% (3 correct, 1 incorrect)")
	assert.Contains(t, buf.String(), "unknown")
}

func TestPrintSimilar_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSimilar(&buf, nil))
	assert.Equal(t, "No similar problems stored yet.\n", buf.String())
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("  a\n b\t\tc ", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
	assert.Equal(t, "abcde", oneLine("abcde", 5))
}

func TestParseRunID(t *testing.T) {
	_, err := parseRunID("not-a-uuid")
	assert.Error(t, err)
}
