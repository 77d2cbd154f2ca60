package mentor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mathmentor/internal/memory"
	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/service/embedding"
	"github.com/ashita-ai/mathmentor/internal/service/mentor"
	"github.com/ashita-ai/mathmentor/internal/storage"
	"github.com/ashita-ai/mathmentor/internal/testutil"
)

const (
	solvable  = "Solve x^2 - 5x + 6 = 0"
	ambiguous = "x?"
	shaky     = "Integrate e^(x^2) dx exactly"
	broken    = "Differentiate sin(x) but the model is down"
	slow      = "Sum the first million primes"
)

// scriptedRunner finishes runs in a status chosen by problem text.
type scriptedRunner struct {
	calls atomic.Int32
}

func (s *scriptedRunner) Run(ctx context.Context, in model.Input) *model.RunState {
	s.calls.Add(1)
	r := model.NewRunState(in)
	sol := model.Solution{Text: "Step 1: factor\nx = 2 or x = 3", Answer: "x = 2 or x = 3"}
	switch in.ProblemText {
	case ambiguous:
		_ = r.SetParsedProblem(model.ParsedProblem{ProblemText: in.ProblemText, NeedsClarification: true})
		_ = r.RequireClarification("The problem statement is ambiguous. Please clarify.")
	case shaky:
		_ = r.SetSolution(sol)
		_ = r.SetVerification(model.Verification{Passed: 3, Total: 5, Aggregate: 0.6,
			Checks: []model.CheckResult{{Name: "alternative", Passed: false}}}, 0.6)
		_ = r.RequireReview("verifier confidence 0.60 is below the review threshold 0.75 (3 of 5 checks passed)")
	case broken:
		r.Fail(errors.New("solver: invoke model: connection refused"))
	case slow:
		<-ctx.Done()
		r.Fail(ctx.Err())
	default:
		_ = r.SetParsedProblem(model.ParsedProblem{ProblemText: in.ProblemText, Topic: model.TopicAlgebra})
		_ = r.SetSolution(sol)
		_ = r.SetVerification(model.Verification{Passed: 5, Total: 5, Aggregate: 1, IsCorrect: true}, 1)
	}
	r.Finalize()
	return r
}

// countingStore counts outcome writes.
type countingStore struct {
	memory.Store
	writes atomic.Int32
	fail   error
}

func (c *countingStore) StoreOutcome(ctx context.Context, o model.Outcome) error {
	if c.fail != nil {
		return c.fail
	}
	c.writes.Add(1)
	return c.Store.StoreOutcome(ctx, o)
}

type downKB struct{}

func (downKB) Healthy(context.Context) error { return errors.New("qdrant unreachable") }

func newService(t *testing.T, cfg mentor.Config) (*mentor.Service, *countingStore, *scriptedRunner) {
	t.Helper()
	db, err := memory.OpenSQLite(context.Background(), ":memory:", embedding.NewHashProvider(64), testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := &countingStore{Store: db}
	runner := &scriptedRunner{}
	return mentor.New(runner, store, nil, cfg, testutil.TestLogger()), store, runner
}

func TestSolve_PersistsOnlySuccess(t *testing.T) {
	tests := []struct {
		text          string
		wantStatus    model.RunStatus
		wantPersisted bool
	}{
		{solvable, model.RunStatusCompleted, true},
		{ambiguous, model.RunStatusNeedsClarification, false},
		{shaky, model.RunStatusHumanReviewRequired, false},
		{broken, model.RunStatusError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.wantStatus)+"/"+tt.text, func(t *testing.T) {
			svc, store, _ := newService(t, mentor.Config{})
			ctx := context.Background()

			res, err := svc.Solve(ctx, model.Input{ProblemText: tt.text})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Run.Status)
			assert.Equal(t, tt.wantPersisted, res.Persisted)
			if tt.wantPersisted {
				assert.Equal(t, int32(1), store.writes.Load())
				o, err := svc.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, o.SolvedCount)
			} else {
				assert.Equal(t, int32(0), store.writes.Load())
			}

			// Every terminal run is recorded.
			got, err := svc.GetRun(ctx, res.Run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
		})
	}
}

func TestSolve_InvalidInput(t *testing.T) {
	svc, _, runner := newService(t, mentor.Config{})
	_, err := svc.Solve(context.Background(), model.Input{ProblemText: solvable, InputMode: "smoke signals"})
	require.ErrorIs(t, err, mentor.ErrInvalidInput)
	assert.Equal(t, int32(0), runner.calls.Load())
}

func TestSolve_TimeoutNeverPersists(t *testing.T) {
	svc, store, _ := newService(t, mentor.Config{RunTimeout: 20 * time.Millisecond})
	res, err := svc.Solve(context.Background(), model.Input{ProblemText: slow})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusError, res.Run.Status)
	assert.False(t, res.Persisted)
	assert.Equal(t, int32(0), store.writes.Load())
}

func TestSolve_StoreFailureIsReported(t *testing.T) {
	svc, store, _ := newService(t, mentor.Config{})
	store.fail = errors.New("disk full")
	res, err := svc.Solve(context.Background(), model.Input{ProblemText: solvable})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, res.Run.Status)
	assert.False(t, res.Persisted)
	assert.False(t, res.View().Persisted)
}

func TestClarify(t *testing.T) {
	svc, store, _ := newService(t, mentor.Config{})
	ctx := context.Background()

	parent, err := svc.Solve(ctx, model.Input{ProblemText: ambiguous})
	require.NoError(t, err)
	require.Equal(t, model.RunStatusNeedsClarification, parent.Run.Status)

	child, err := svc.Clarify(ctx, parent.Run.ID, solvable)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, child.Run.Status)
	assert.NotEqual(t, parent.Run.ID, child.Run.ID, "clarification starts a new run")
	require.NotNil(t, child.Run.ParentID)
	assert.Equal(t, parent.Run.ID, *child.Run.ParentID)
	assert.Equal(t, int32(1), store.writes.Load())

	// The completed child cannot be clarified.
	_, err = svc.Clarify(ctx, child.Run.ID, solvable)
	assert.ErrorIs(t, err, mentor.ErrNotClarifiable)

	_, err = svc.Clarify(ctx, parent.Run.ID, "   ")
	assert.ErrorIs(t, err, mentor.ErrInvalidInput)

	_, err = svc.Clarify(ctx, uuid.New(), solvable)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApprove(t *testing.T) {
	svc, store, _ := newService(t, mentor.Config{})
	ctx := context.Background()

	res, err := svc.Solve(ctx, model.Input{ProblemText: shaky})
	require.NoError(t, err)
	require.Equal(t, model.RunStatusHumanReviewRequired, res.Run.Status)
	require.Equal(t, int32(0), store.writes.Load())

	edited := "Step 1: no elementary antiderivative exists; express with erfi."
	o, err := svc.Approve(ctx, res.Run.ID, "prof.lee", &edited)
	require.NoError(t, err)
	assert.Equal(t, res.Run.ID, o.ID)
	assert.Equal(t, "prof.lee", o.ReviewedBy)
	assert.Equal(t, edited, o.SolutionText)
	assert.InDelta(t, 0.6, o.Confidence, 1e-9)
	assert.Len(t, o.VerifierDetail, 1)
	assert.Equal(t, int32(1), store.writes.Load())

	_, err = svc.Approve(ctx, res.Run.ID, "prof.lee", nil)
	assert.ErrorIs(t, err, storage.ErrConflict)

	blank := "  "
	_, err = svc.Approve(ctx, res.Run.ID, "prof.lee", &blank)
	assert.ErrorIs(t, err, mentor.ErrInvalidInput)
}

func TestApprove_RejectsOtherStatuses(t *testing.T) {
	svc, _, _ := newService(t, mentor.Config{})
	ctx := context.Background()
	for _, text := range []string{solvable, ambiguous, broken} {
		res, err := svc.Solve(ctx, model.Input{ProblemText: text})
		require.NoError(t, err)
		_, err = svc.Approve(ctx, res.Run.ID, "prof.lee", nil)
		assert.ErrorIs(t, err, mentor.ErrNotReviewable, text)
	}
	_, err := svc.Approve(ctx, uuid.New(), "prof.lee", nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFeedbackAndStats(t *testing.T) {
	svc, _, _ := newService(t, mentor.Config{})
	ctx := context.Background()

	a, err := svc.Solve(ctx, model.Input{ProblemText: solvable})
	require.NoError(t, err)
	b, err := svc.Solve(ctx, model.Input{ProblemText: "Solve 2x = 10"})
	require.NoError(t, err)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.SolvedCount)
	assert.Equal(t, 0.0, st.SuccessRate, "no feedback yet")

	require.NoError(t, svc.Feedback(ctx, a.Run.ID, model.FeedbackRequest{Verdict: "correct"}))
	require.NoError(t, svc.Feedback(ctx, b.Run.ID, model.FeedbackRequest{Verdict: "incorrect", Comment: "x = 5, not x = 2 or x = 3"}))

	st, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.CorrectCount)
	assert.Equal(t, 1, st.IncorrectCount)
	assert.InDelta(t, 50.0, st.SuccessRate, 1e-9)

	// Last writer wins.
	require.NoError(t, svc.Feedback(ctx, b.Run.ID, model.FeedbackRequest{Verdict: "correct"}))
	st, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, st.SuccessRate, 1e-9)

	err = svc.Feedback(ctx, a.Run.ID, model.FeedbackRequest{Verdict: "meh"})
	assert.ErrorIs(t, err, mentor.ErrInvalidInput)
	err = svc.Feedback(ctx, uuid.New(), model.FeedbackRequest{Verdict: "correct"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSimilar(t *testing.T) {
	svc, _, _ := newService(t, mentor.Config{})
	ctx := context.Background()

	_, err := svc.Solve(ctx, model.Input{ProblemText: solvable})
	require.NoError(t, err)

	sims, err := svc.Similar(ctx, "Solve x^2 - 5x + 6 = 0", 0)
	require.NoError(t, err)
	require.Len(t, sims, 1)
	assert.Equal(t, solvable, sims[0].Problem)

	_, err = svc.Similar(ctx, " ", 3)
	assert.ErrorIs(t, err, mentor.ErrInvalidInput)
}

func TestHealth(t *testing.T) {
	svc, _, _ := newService(t, mentor.Config{})
	store, kb := svc.Health(context.Background())
	assert.Equal(t, "ok", store)
	assert.Equal(t, "disabled", kb)

	db, err := memory.OpenSQLite(context.Background(), ":memory:", embedding.NewHashProvider(64), testutil.TestLogger())
	require.NoError(t, err)
	defer db.Close()
	svc = mentor.New(&scriptedRunner{}, db, downKB{}, mentor.Config{}, testutil.TestLogger())
	_, kb = svc.Health(context.Background())
	assert.Equal(t, "unavailable", kb)
}

func TestSession(t *testing.T) {
	svc, _, _ := newService(t, mentor.Config{})
	sess := mentor.NewSession(svc)
	ctx := context.Background()
	assert.Nil(t, sess.Last())

	first, err := sess.Submit(ctx, ambiguous)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusNeedsClarification, first.Run.Status)

	// The next submission answers the clarification.
	second, err := sess.Submit(ctx, solvable)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, second.Run.Status)
	require.NotNil(t, second.Run.ParentID)
	assert.Equal(t, first.Run.ID, *second.Run.ParentID)

	third, err := sess.Submit(ctx, solvable)
	require.NoError(t, err)
	assert.Nil(t, third.Run.ParentID)
	assert.Len(t, sess.History(), 3)

	sess.Reset()
	assert.Nil(t, sess.Last())
}
