package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mathmentor/internal/model"
)

// SaveRun upserts the terminal state of a run.
func (db *DB) SaveRun(ctx context.Context, r *model.RunState) error {
	state, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("storage: marshal run: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO run_records (id, parent_id, status, success, topic, confidence, state, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, success = EXCLUDED.success,
			topic = EXCLUDED.topic, confidence = EXCLUDED.confidence, state = EXCLUDED.state,
			finished_at = EXCLUDED.finished_at`,
		r.ID, r.ParentID, string(r.Status), r.Success, r.Topic(), r.Confidence,
		state, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save run: %w", err)
	}
	return nil
}

// GetRun loads a run record.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*model.RunState, error) {
	var state []byte
	err := db.pool.QueryRow(ctx, `SELECT state FROM run_records WHERE id = $1`, id).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("storage: get run: %w", err)
	}
	var r model.RunState
	if err := json.Unmarshal(state, &r); err != nil {
		return nil, fmt.Errorf("storage: decode run: %w", err)
	}
	return &r, nil
}
