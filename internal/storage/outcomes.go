package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mathmentor/internal/model"
)

// DefaultSimilarK is the number of past solutions returned when k <= 0.
const DefaultSimilarK = 3

// StoreOutcome embeds the problem text and inserts the outcome. Outcomes are
// append-only; a repeated ID returns ErrConflict.
func (db *DB) StoreOutcome(ctx context.Context, o model.Outcome) error {
	vec, err := db.embedder.Embed(ctx, o.ProblemText)
	if err != nil {
		return fmt.Errorf("storage: embed outcome: %w", err)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	detail := o.VerifierDetail
	if detail == nil {
		detail = []model.CheckResult{}
	}

	tag, err := db.pool.Exec(ctx,
		`INSERT INTO solved_problems (id, problem_text, topic, solution_text, answer, confidence,
			input_mode, modality_confidence, verifier_detail, reviewed_by, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO NOTHING`,
		o.ID, o.ProblemText, o.Topic, o.SolutionText, o.Answer, o.Confidence,
		string(o.InputMode), o.ModalityConfidence, detail, o.ReviewedBy, vec, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: store outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: outcome %s", ErrConflict, o.ID)
	}
	if o.UserFeedback != nil {
		return db.RecordFeedback(ctx, o.ID, *o.UserFeedback)
	}
	return nil
}

// RecordFeedback replaces the feedback on an outcome; the last write wins.
func (db *DB) RecordFeedback(ctx context.Context, id uuid.UUID, fb model.Feedback) error {
	if fb.RecordedAt.IsZero() {
		fb.RecordedAt = time.Now().UTC()
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE solved_problems SET feedback_verdict = $1, feedback_comment = $2, feedback_at = $3
		 WHERE id = $4`,
		string(fb.Verdict), fb.Comment, fb.RecordedAt, id,
	)
	if err != nil {
		return fmt.Errorf("storage: record feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: outcome %s", ErrNotFound, id)
	}
	return nil
}

// FindSimilar returns up to k reusable outcomes nearest to query by cosine
// distance. Incorrect outcomes are skipped unless the comment is a
// correction, which then replaces the solution text.
func (db *DB) FindSimilar(ctx context.Context, query string, k int) ([]model.SimilarSolution, error) {
	if k <= 0 {
		k = DefaultSimilarK
	}
	vec, err := db.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("storage: embed query: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, problem_text, solution_text, feedback_verdict, feedback_comment,
			1 - (embedding <=> $1) AS similarity
		 FROM solved_problems
		 WHERE embedding IS NOT NULL
		   AND vector_dims(embedding) = vector_dims($1)
		   AND NOT (COALESCE(feedback_verdict, '') = 'incorrect'
		            AND char_length(btrim(COALESCE(feedback_comment, ''))) <= 10)
		 ORDER BY embedding <=> $1, created_at DESC
		 LIMIT $2`,
		vec, k,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: find similar: %w", err)
	}
	defer rows.Close()

	out := make([]model.SimilarSolution, 0, k)
	for rows.Next() {
		var (
			o                model.Outcome
			verdict, comment *string
			similarity       float64
		)
		if err := rows.Scan(&o.ID, &o.ProblemText, &o.SolutionText, &verdict, &comment, &similarity); err != nil {
			return nil, fmt.Errorf("storage: scan similar: %w", err)
		}
		if verdict != nil {
			o.UserFeedback = &model.Feedback{Verdict: model.Verdict(*verdict), Comment: deref(comment)}
		}
		sol, ok := o.ReusableSolution()
		if !ok {
			continue
		}
		out = append(out, model.SimilarSolution{
			ID:         o.ID.String(),
			Problem:    o.ProblemText,
			Solution:   sol,
			Similarity: similarity,
		})
	}
	return out, rows.Err()
}

// Reembed rewrites every outcome's embedding with the current provider.
// Each update retries on serialization failures and deadlocks.
func (db *DB) Reembed(ctx context.Context) (int, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, problem_text FROM solved_problems ORDER BY created_at`)
	if err != nil {
		return 0, fmt.Errorf("storage: list outcomes: %w", err)
	}
	type pending struct {
		id   uuid.UUID
		text string
	}
	all, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pending, error) {
		var p pending
		err := row.Scan(&p.id, &p.text)
		return p, err
	})
	if err != nil {
		return 0, fmt.Errorf("storage: scan outcomes: %w", err)
	}

	updated := 0
	for _, p := range all {
		vec, err := db.embedder.Embed(ctx, p.text)
		if err != nil {
			return updated, fmt.Errorf("storage: embed outcome %s: %w", p.id, err)
		}
		err = WithRetry(ctx, 3, 50*time.Millisecond, func() error {
			_, err := db.pool.Exec(ctx, `UPDATE solved_problems SET embedding = $1 WHERE id = $2`, vec, p.id)
			return err
		})
		if err != nil {
			return updated, fmt.Errorf("storage: update embedding %s: %w", p.id, err)
		}
		updated++
	}
	db.logger.Info("storage: re-embedded outcomes", "count", updated)
	return updated, nil
}

// GetOutcome loads one outcome with its feedback.
func (db *DB) GetOutcome(ctx context.Context, id uuid.UUID) (model.Outcome, error) {
	var (
		o                model.Outcome
		mode             string
		verdict, comment *string
		feedbackAt       *time.Time
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, problem_text, topic, solution_text, answer, confidence, input_mode,
			modality_confidence, verifier_detail, reviewed_by, feedback_verdict, feedback_comment,
			feedback_at, created_at
		 FROM solved_problems WHERE id = $1`, id,
	).Scan(&o.ID, &o.ProblemText, &o.Topic, &o.SolutionText, &o.Answer, &o.Confidence, &mode,
		&o.ModalityConfidence, &o.VerifierDetail, &o.ReviewedBy, &verdict, &comment,
		&feedbackAt, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Outcome{}, fmt.Errorf("%w: outcome %s", ErrNotFound, id)
		}
		return model.Outcome{}, fmt.Errorf("storage: get outcome: %w", err)
	}
	o.InputMode = model.InputMode(mode)
	if verdict != nil {
		o.UserFeedback = &model.Feedback{Verdict: model.Verdict(*verdict), Comment: deref(comment)}
		if feedbackAt != nil {
			o.UserFeedback.RecordedAt = feedbackAt.UTC()
		}
	}
	return o, nil
}

// Statistics aggregates outcomes overall and per topic. The success rate
// counts correct and incorrect feedback only.
func (db *DB) Statistics(ctx context.Context) (model.Statistics, error) {
	const aggregates = `COUNT(*),
		COALESCE(AVG(confidence), 0),
		COUNT(*) FILTER (WHERE feedback_verdict = 'correct'),
		COUNT(*) FILTER (WHERE feedback_verdict = 'incorrect')`

	var st model.Statistics
	if err := db.pool.QueryRow(ctx, `SELECT `+aggregates+` FROM solved_problems`).Scan(
		&st.SolvedCount, &st.AvgConfidence, &st.CorrectCount, &st.IncorrectCount,
	); err != nil {
		return model.Statistics{}, fmt.Errorf("storage: statistics: %w", err)
	}
	st.SuccessRate = model.FeedbackSuccessRate(st.CorrectCount, st.IncorrectCount)

	rows, err := db.pool.Query(ctx,
		`SELECT topic, `+aggregates+` FROM solved_problems GROUP BY topic ORDER BY topic`)
	if err != nil {
		return model.Statistics{}, fmt.Errorf("storage: topic statistics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tp model.TopicProgress
		if err := rows.Scan(&tp.Topic, &tp.SolvedCount, &tp.AvgConfidence, &tp.CorrectCount, &tp.IncorrectCount); err != nil {
			return model.Statistics{}, fmt.Errorf("storage: scan topic statistics: %w", err)
		}
		st.Topics = append(st.Topics, tp)
	}
	return st, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
