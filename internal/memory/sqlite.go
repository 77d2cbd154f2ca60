package memory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"

	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/service/embedding"
	"github.com/ashita-ai/mathmentor/internal/storage"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS solved_problems (
	id                  TEXT PRIMARY KEY,
	problem_text        TEXT NOT NULL,
	topic               TEXT NOT NULL,
	solution_text       TEXT NOT NULL,
	answer              TEXT NOT NULL,
	confidence          REAL NOT NULL,
	input_mode          TEXT NOT NULL,
	modality_confidence REAL,
	verifier_detail     TEXT NOT NULL DEFAULT '[]',
	reviewed_by         TEXT NOT NULL DEFAULT '',
	feedback_verdict    TEXT,
	feedback_comment    TEXT,
	feedback_at         TEXT,
	embedding           BLOB,
	created_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_solved_problems_topic ON solved_problems(topic);

CREATE TABLE IF NOT EXISTS run_records (
	id          TEXT PRIMARY KEY,
	parent_id   TEXT,
	status      TEXT NOT NULL,
	success     INTEGER NOT NULL,
	topic       TEXT NOT NULL,
	confidence  REAL,
	state       TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_run_records_parent ON run_records(parent_id);
`

// reusableFilter excludes incorrect outcomes whose comment is too short to be
// a correction. It mirrors model.Feedback.Correction.
const reusableFilter = `NOT (COALESCE(feedback_verdict, '') = 'incorrect'
	AND length(trim(COALESCE(feedback_comment, ''))) <= 10)`

var registerFuncs = sync.OnceValue(func() error {
	return sqlite.RegisterDeterministicScalarFunction("cosine_distance", 2, cosineDistance)
})

// cosineDistance is 1 - cos(a, b) over little-endian float32 blobs, matching
// pgvector's <=> operator. Empty, zero or mismatched vectors are at
// distance 1.
func cosineDistance(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, _ := args[0].([]byte)
	b, _ := args[1].([]byte)
	va, err := decodeVector(a)
	if err != nil {
		return nil, err
	}
	vb, err := decodeVector(b)
	if err != nil {
		return nil, err
	}
	if len(va) == 0 || len(va) != len(vb) {
		return float64(1), nil
	}
	return 1 - embedding.Cosine(va, vb), nil
}

// SQLiteStore is an OutcomeStore and RunRecorder on a single SQLite file.
type SQLiteStore struct {
	db       *sql.DB
	embedder embedding.Provider
	logger   *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string, embedder embedding.Provider, logger *slog.Logger) (*SQLiteStore, error) {
	if err := registerFuncs(); err != nil {
		return nil, fmt.Errorf("memory: register sqlite functions: %w", err)
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("memory: create directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite %s: %w", path, err)
	}
	// One connection serializes writers and keeps :memory: a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: create schema: %w", err)
	}
	return &SQLiteStore{db: db, embedder: embedder, logger: logger}, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StoreOutcome embeds the problem text and inserts the outcome.
func (s *SQLiteStore) StoreOutcome(ctx context.Context, o model.Outcome) error {
	vec, err := s.embedder.Embed(ctx, o.ProblemText)
	if err != nil {
		return fmt.Errorf("memory: embed outcome: %w", err)
	}
	detail, err := json.Marshal(nonNilChecks(o.VerifierDetail))
	if err != nil {
		return fmt.Errorf("memory: marshal verifier detail: %w", err)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO solved_problems (id, problem_text, topic, solution_text, answer, confidence,
			input_mode, modality_confidence, verifier_detail, reviewed_by, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		o.ID.String(), o.ProblemText, o.Topic, o.SolutionText, o.Answer, o.Confidence,
		string(o.InputMode), o.ModalityConfidence, string(detail), o.ReviewedBy,
		encodeVector(vec.Slice()), formatTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("memory: store outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: outcome %s", storage.ErrConflict, o.ID)
	}
	if o.UserFeedback != nil {
		return s.RecordFeedback(ctx, o.ID, *o.UserFeedback)
	}
	return nil
}

// RecordFeedback overwrites the feedback on an outcome.
func (s *SQLiteStore) RecordFeedback(ctx context.Context, id uuid.UUID, fb model.Feedback) error {
	if fb.RecordedAt.IsZero() {
		fb.RecordedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE solved_problems SET feedback_verdict = ?, feedback_comment = ?, feedback_at = ? WHERE id = ?`,
		string(fb.Verdict), fb.Comment, formatTime(fb.RecordedAt), id.String(),
	)
	if err != nil {
		return fmt.Errorf("memory: record feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: outcome %s", storage.ErrNotFound, id)
	}
	return nil
}

// FindSimilar ranks reusable outcomes by cosine similarity of their problem
// text to query.
func (s *SQLiteStore) FindSimilar(ctx context.Context, query string, k int) ([]model.SimilarSolution, error) {
	if k <= 0 {
		k = DefaultK
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, problem_text, solution_text, feedback_verdict, feedback_comment,
			cosine_distance(embedding, ?) AS distance
		 FROM solved_problems
		 WHERE embedding IS NOT NULL AND `+reusableFilter+`
		 ORDER BY distance ASC, created_at DESC
		 LIMIT ?`,
		encodeVector(vec.Slice()), k,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: find similar: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cands []Candidate
	for rows.Next() {
		var (
			c                Candidate
			id               string
			verdict, comment sql.NullString
			distance         float64
		)
		if err := rows.Scan(&id, &c.Problem, &c.Solution, &verdict, &comment, &distance); err != nil {
			return nil, fmt.Errorf("memory: scan similar: %w", err)
		}
		c.ID, _ = uuid.Parse(id)
		c.Similarity = 1 - distance
		if verdict.Valid {
			c.Feedback = &model.Feedback{Verdict: model.Verdict(verdict.String), Comment: comment.String}
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: find similar: %w", err)
	}
	return Rank(cands, k), nil
}

// Statistics aggregates all outcomes, overall and per topic.
func (s *SQLiteStore) Statistics(ctx context.Context) (model.Statistics, error) {
	const aggregates = `COUNT(*),
		COALESCE(AVG(confidence), 0),
		COALESCE(SUM(CASE WHEN feedback_verdict = 'correct' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN feedback_verdict = 'incorrect' THEN 1 ELSE 0 END), 0)`

	var st model.Statistics
	if err := s.db.QueryRowContext(ctx, `SELECT `+aggregates+` FROM solved_problems`).Scan(
		&st.SolvedCount, &st.AvgConfidence, &st.CorrectCount, &st.IncorrectCount,
	); err != nil {
		return model.Statistics{}, fmt.Errorf("memory: statistics: %w", err)
	}
	st.SuccessRate = model.FeedbackSuccessRate(st.CorrectCount, st.IncorrectCount)

	rows, err := s.db.QueryContext(ctx,
		`SELECT topic, `+aggregates+` FROM solved_problems GROUP BY topic ORDER BY topic`)
	if err != nil {
		return model.Statistics{}, fmt.Errorf("memory: topic statistics: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var tp model.TopicProgress
		if err := rows.Scan(&tp.Topic, &tp.SolvedCount, &tp.AvgConfidence, &tp.CorrectCount, &tp.IncorrectCount); err != nil {
			return model.Statistics{}, fmt.Errorf("memory: scan topic statistics: %w", err)
		}
		st.Topics = append(st.Topics, tp)
	}
	return st, rows.Err()
}

// GetOutcome loads one outcome with its feedback.
func (s *SQLiteStore) GetOutcome(ctx context.Context, id uuid.UUID) (model.Outcome, error) {
	var (
		o                      model.Outcome
		rawID, mode, detail    string
		createdAt              string
		modality               sql.NullFloat64
		verdict, comment, fbAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, problem_text, topic, solution_text, answer, confidence, input_mode,
			modality_confidence, verifier_detail, reviewed_by, feedback_verdict, feedback_comment,
			feedback_at, created_at
		 FROM solved_problems WHERE id = ?`, id.String(),
	).Scan(&rawID, &o.ProblemText, &o.Topic, &o.SolutionText, &o.Answer, &o.Confidence, &mode,
		&modality, &detail, &o.ReviewedBy, &verdict, &comment, &fbAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Outcome{}, fmt.Errorf("%w: outcome %s", storage.ErrNotFound, id)
		}
		return model.Outcome{}, fmt.Errorf("memory: get outcome: %w", err)
	}

	o.ID = id
	o.InputMode = model.InputMode(mode)
	if modality.Valid {
		o.ModalityConfidence = &modality.Float64
	}
	if err := json.Unmarshal([]byte(detail), &o.VerifierDetail); err != nil {
		return model.Outcome{}, fmt.Errorf("memory: decode verifier detail: %w", err)
	}
	o.CreatedAt = parseTime(createdAt)
	if verdict.Valid {
		o.UserFeedback = &model.Feedback{
			Verdict:    model.Verdict(verdict.String),
			Comment:    comment.String,
			RecordedAt: parseTime(fbAt.String),
		}
	}
	return o, nil
}

// Reembed rewrites every outcome's embedding with the current provider.
func (s *SQLiteStore) Reembed(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, problem_text FROM solved_problems ORDER BY created_at`)
	if err != nil {
		return 0, fmt.Errorf("memory: list outcomes: %w", err)
	}
	type pending struct{ id, text string }
	var all []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.text); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("memory: scan outcome: %w", err)
		}
		all = append(all, p)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("memory: list outcomes: %w", err)
	}

	updated := 0
	for _, p := range all {
		vec, err := s.embedder.Embed(ctx, p.text)
		if err != nil {
			return updated, fmt.Errorf("memory: embed outcome %s: %w", p.id, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE solved_problems SET embedding = ? WHERE id = ?`,
			encodeVector(vec.Slice()), p.id,
		); err != nil {
			return updated, fmt.Errorf("memory: update embedding %s: %w", p.id, err)
		}
		updated++
	}
	s.logger.Info("memory: re-embedded outcomes", "count", updated)
	return updated, nil
}

// SaveRun upserts the run record.
func (s *SQLiteStore) SaveRun(ctx context.Context, r *model.RunState) error {
	state, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("memory: marshal run: %w", err)
	}
	var parent, finished *string
	if r.ParentID != nil {
		p := r.ParentID.String()
		parent = &p
	}
	if r.FinishedAt != nil {
		f := formatTime(*r.FinishedAt)
		finished = &f
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_records (id, parent_id, status, success, topic, confidence, state, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, success = excluded.success,
			topic = excluded.topic, confidence = excluded.confidence, state = excluded.state,
			finished_at = excluded.finished_at`,
		r.ID.String(), parent, string(r.Status), r.Success, r.Topic(), r.Confidence,
		string(state), formatTime(r.StartedAt), finished,
	)
	if err != nil {
		return fmt.Errorf("memory: save run: %w", err)
	}
	return nil
}

// GetRun loads a run record.
func (s *SQLiteStore) GetRun(ctx context.Context, id uuid.UUID) (*model.RunState, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM run_records WHERE id = ?`, id.String()).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: run %s", storage.ErrNotFound, id)
		}
		return nil, fmt.Errorf("memory: get run: %w", err)
	}
	var r model.RunState
	if err := json.Unmarshal([]byte(state), &r); err != nil {
		return nil, fmt.Errorf("memory: decode run: %w", err)
	}
	return &r, nil
}

func nonNilChecks(c []model.CheckResult) []model.CheckResult {
	if c == nil {
		return []model.CheckResult{}
	}
	return c
}

// sqliteTime is fixed width so stored timestamps compare correctly as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ Store = (*SQLiteStore)(nil)
