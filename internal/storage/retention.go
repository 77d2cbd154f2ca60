package storage

import (
	"context"
	"fmt"
	"time"
)

// DefaultPurgeBatch bounds how many run records one DELETE removes.
const DefaultPurgeBatch = 1000

// PurgeRuns deletes run records that finished before the cutoff, in batches
// of batchSize to avoid long-running transactions. Runs awaiting human
// review are kept until approved, that is until an outcome with the run's ID
// exists. Outcomes are never touched.
func (db *DB) PurgeRuns(ctx context.Context, before time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = DefaultPurgeBatch
	}
	var total int64
	for {
		var n int64
		err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
			tag, err := db.pool.Exec(ctx,
				`DELETE FROM run_records WHERE id IN (
					SELECT id FROM run_records
					 WHERE finished_at < $1
					   AND (status <> 'human_review_required'
					        OR EXISTS (SELECT 1 FROM solved_problems sp WHERE sp.id = run_records.id))
					 LIMIT $2)`,
				before, batchSize,
			)
			n = tag.RowsAffected()
			return err
		})
		if err != nil {
			return total, fmt.Errorf("storage: purge runs: %w", err)
		}
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}
