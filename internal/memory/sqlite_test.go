package memory_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mathmentor/internal/memory"
	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/service/embedding"
	"github.com/ashita-ai/mathmentor/internal/storage"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

func openStore(t *testing.T) *memory.SQLiteStore {
	t.Helper()
	s, err := memory.OpenSQLite(context.Background(), ":memory:", embedding.NewHashProvider(128), testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func outcome(problem, solution, topic string, confidence float64) model.Outcome {
	return model.Outcome{
		ID:           uuid.New(),
		ProblemText:  problem,
		Topic:        topic,
		SolutionText: solution,
		Answer:       model.TruncateAnswer(solution),
		Confidence:   confidence,
		InputMode:    model.InputModeText,
		VerifierDetail: []model.CheckResult{
			{Name: "domain", Passed: true, Details: "ok"},
		},
	}
}

func TestStoreAndGetOutcome(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	mc := 0.92
	o := outcome("Solve x^2 - 5x + 6 = 0", "x = 2 or x = 3", model.TopicAlgebra, 0.8)
	o.InputMode = model.InputModeImage
	o.ModalityConfidence = &mc
	require.NoError(t, s.StoreOutcome(ctx, o))

	got, err := s.GetOutcome(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ProblemText, got.ProblemText)
	assert.Equal(t, model.InputModeImage, got.InputMode)
	require.NotNil(t, got.ModalityConfidence)
	assert.InDelta(t, 0.92, *got.ModalityConfidence, 1e-9)
	assert.Equal(t, o.VerifierDetail, got.VerifierDetail)
	assert.Nil(t, got.UserFeedback)
	assert.False(t, got.CreatedAt.IsZero())

	err = s.StoreOutcome(ctx, o)
	assert.ErrorIs(t, err, storage.ErrConflict, "outcomes are append-only")

	_, err = s.GetOutcome(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordFeedbackLastWriterWins(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	o := outcome("Find the derivative of x^3", "3x^2", model.TopicCalculus, 0.9)
	require.NoError(t, s.StoreOutcome(ctx, o))

	require.NoError(t, s.RecordFeedback(ctx, o.ID, model.Feedback{Verdict: model.VerdictIncorrect, Comment: "typo"}))
	require.NoError(t, s.RecordFeedback(ctx, o.ID, model.Feedback{Verdict: model.VerdictCorrect}))

	got, err := s.GetOutcome(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got.UserFeedback)
	assert.Equal(t, model.VerdictCorrect, got.UserFeedback.Verdict)
	assert.Empty(t, got.UserFeedback.Comment)
	assert.False(t, got.UserFeedback.RecordedAt.IsZero())

	err = s.RecordFeedback(ctx, uuid.New(), model.Feedback{Verdict: model.VerdictCorrect})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFindSimilarAppliesFeedbackPolicy(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	plain := outcome("Solve x^2 - 5x + 6 = 0", "Factor: x = 2, x = 3", model.TopicAlgebra, 0.9)
	wrong := outcome("Solve x^2 - 7x + 12 = 0", "x = 1", model.TopicAlgebra, 0.8)
	corrected := outcome("Solve x^2 - 3x + 2 = 0", "x = 5", model.TopicAlgebra, 0.8)
	unrelated := outcome("Probability of two heads in two coin flips", "1/4", model.TopicProbability, 0.9)
	for _, o := range []model.Outcome{plain, wrong, corrected, unrelated} {
		require.NoError(t, s.StoreOutcome(ctx, o))
	}
	require.NoError(t, s.RecordFeedback(ctx, wrong.ID, model.Feedback{Verdict: model.VerdictIncorrect, Comment: "wrong"}))
	require.NoError(t, s.RecordFeedback(ctx, corrected.ID, model.Feedback{
		Verdict: model.VerdictIncorrect, Comment: "Factor as (x-1)(x-2), so x = 1 or x = 2",
	}))

	got, err := s.FindSimilar(ctx, "Solve x^2 - 5x + 6 = 0", 10)
	require.NoError(t, err)

	byID := map[string]model.SimilarSolution{}
	for _, g := range got {
		byID[g.ID] = g
	}
	assert.NotContains(t, byID, wrong.ID.String(), "incorrect without correction is excluded")
	require.Contains(t, byID, corrected.ID.String())
	assert.Equal(t, "Corrected Solution: Factor as (x-1)(x-2), so x = 1 or x = 2", byID[corrected.ID.String()].Solution)

	require.NotEmpty(t, got)
	assert.Equal(t, plain.ID.String(), got[0].ID, "exact problem ranks first")
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Similarity, got[i].Similarity)
	}

	top, err := s.FindSimilar(ctx, "Solve x^2 - 5x + 6 = 0", 0)
	require.NoError(t, err)
	assert.Len(t, top, memory.DefaultK)
}

func TestFindSimilarEmptyStore(t *testing.T) {
	got, err := openStore(t).FindSimilar(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStatisticsWithoutFeedback(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	for i := range 100 {
		require.NoError(t, s.StoreOutcome(ctx, outcome(fmt.Sprintf("Compute %d + %d", i, i), fmt.Sprint(2*i), model.TopicAlgebra, 0.8)))
	}
	st, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, st.SolvedCount)
	assert.Zero(t, st.SuccessRate, "no feedback means no success rate")
	assert.InDelta(t, 0.8, st.AvgConfidence, 1e-9)
}

func TestStatisticsWithFeedback(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	empty, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Statistics{}, empty)

	a := outcome("Solve 2x = 4", "x = 2", model.TopicAlgebra, 1.0)
	b := outcome("Solve 3x = 9", "x = 3", model.TopicAlgebra, 0.5)
	c := outcome("P(heads)", "1/2", model.TopicProbability, 0.8)
	d := outcome("P(six)", "1/6", model.TopicProbability, 0.8)
	for _, o := range []model.Outcome{a, b, c, d} {
		require.NoError(t, s.StoreOutcome(ctx, o))
	}
	require.NoError(t, s.RecordFeedback(ctx, a.ID, model.Feedback{Verdict: model.VerdictCorrect}))
	require.NoError(t, s.RecordFeedback(ctx, b.ID, model.Feedback{Verdict: model.VerdictCorrect}))
	require.NoError(t, s.RecordFeedback(ctx, c.ID, model.Feedback{Verdict: model.VerdictIncorrect}))
	require.NoError(t, s.RecordFeedback(ctx, d.ID, model.Feedback{Verdict: model.VerdictUnclear}))

	st, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.SolvedCount)
	assert.Equal(t, 2, st.CorrectCount)
	assert.Equal(t, 1, st.IncorrectCount)
	assert.InDelta(t, 200.0/3.0, st.SuccessRate, 1e-9, "unclear feedback does not count")
	assert.InDelta(t, 0.775, st.AvgConfidence, 1e-9)

	require.Len(t, st.Topics, 2)
	assert.Equal(t, model.TopicProgress{Topic: "algebra", SolvedCount: 2, CorrectCount: 2, AvgConfidence: 0.75}, st.Topics[0])
	assert.Equal(t, "probability", st.Topics[1].Topic)
	assert.Equal(t, 1, st.Topics[1].IncorrectCount)
}

func TestRunRecords(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	parent := uuid.New()
	r := model.NewRunState(model.Input{ProblemText: "Solve x + 1 = 2", ParentID: &parent})
	require.NoError(t, r.SetParsedProblem(model.ParsedProblem{ProblemText: "Solve x + 1 = 2", Topic: "algebra"}))
	require.NoError(t, r.RequireReview("verifier confidence 0.60 below 0.75"))
	r.Finalize()
	require.NoError(t, s.SaveRun(ctx, r))
	require.NoError(t, s.SaveRun(ctx, r), "saving twice updates in place")

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, &parent, got.ParentID)
	assert.Equal(t, model.RunStatusHumanReviewRequired, got.Status)
	assert.Equal(t, r.Reason, got.Reason)
	assert.Equal(t, "algebra", got.Topic())

	_, err = s.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOpenSQLiteFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "mentor.db")
	emb := embedding.NewHashProvider(32)

	s, err := memory.OpenSQLite(ctx, path, emb, testLogger)
	require.NoError(t, err)
	o := outcome("Integrate 2x", "x^2 + C", model.TopicCalculus, 0.9)
	require.NoError(t, s.StoreOutcome(ctx, o))
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	s, err = memory.OpenSQLite(ctx, path, emb, testLogger)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	_, err = s.GetOutcome(ctx, o.ID)
	require.NoError(t, err)
}

func TestRank(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	cands := []memory.Candidate{
		{ID: ids[0], Problem: "p0", Solution: "s0", Similarity: 0.9},
		{ID: ids[1], Problem: "p1", Solution: "s1", Similarity: 0.8,
			Feedback: &model.Feedback{Verdict: model.VerdictIncorrect, Comment: "short"}},
		{ID: ids[2], Problem: "p2", Solution: "s2", Similarity: 0.7,
			Feedback: &model.Feedback{Verdict: model.VerdictUnclear}},
		{ID: ids[3], Problem: "p3", Solution: "s3", Similarity: 0.6},
	}
	got := memory.Rank(cands, 2)
	require.Len(t, got, 2)
	assert.Equal(t, ids[0].String(), got[0].ID)
	assert.Equal(t, ids[2].String(), got[1].ID, "unclear feedback stays reusable")
}

func TestReembedAfterDimensionChange(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mentor.db")

	s, err := memory.OpenSQLite(ctx, path, embedding.NewHashProvider(32), testLogger)
	require.NoError(t, err)
	o := outcome("Solve 3x = 12", "x = 4", model.TopicAlgebra, 0.9)
	require.NoError(t, s.StoreOutcome(ctx, o))
	require.NoError(t, s.Close())

	s, err = memory.OpenSQLite(ctx, path, embedding.NewHashProvider(64), testLogger)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	before, err := s.FindSimilar(ctx, o.ProblemText, 1)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.InDelta(t, 0, before[0].Similarity, 1e-9, "mismatched dimensions are at distance 1")

	var r memory.Reembedder = s
	n, err := r.Reembed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := s.FindSimilar(ctx, o.ProblemText, 1)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.InDelta(t, 1, after[0].Similarity, 1e-5)
}
