package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RunPurger deletes old run records. Runs awaiting human review are kept
// until they are approved.
type RunPurger interface {
	PurgeRuns(ctx context.Context, before time.Time, batchSize int) (int64, error)
}

// PurgeRuns deletes run records that finished before the cutoff, batchSize
// rows at a time.
func (s *SQLiteStore) PurgeRuns(ctx context.Context, before time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var total int64
	for {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM run_records WHERE id IN (
				SELECT id FROM run_records
				 WHERE finished_at IS NOT NULL AND finished_at < ?
				   AND (status <> 'human_review_required'
				        OR EXISTS (SELECT 1 FROM solved_problems sp WHERE sp.id = run_records.id))
				 LIMIT ?)`,
			formatTime(before), batchSize,
		)
		if err != nil {
			return total, fmt.Errorf("memory: purge runs: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// RunRetention purges run records older than retention every interval until
// ctx is done. The first purge runs immediately.
func RunRetention(ctx context.Context, p RunPurger, retention, interval time.Duration, logger *slog.Logger) {
	purge := func() {
		cutoff := time.Now().Add(-retention)
		n, err := p.PurgeRuns(ctx, cutoff, 0)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("retention: purge failed", "error", err, "deleted", n)
		case n > 0:
			logger.Info("retention: purged run records", "deleted", n, "cutoff", cutoff)
		}
	}

	purge()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}
