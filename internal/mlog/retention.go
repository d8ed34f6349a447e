package mlog

import (
	"context"
	"fmt"
	"time"
)

// RetentionCycle drops every chunk whose window lies wholly before the
// retention horizon: archive block, any raw rows, and the metadata row go
// together in one transaction per chunk. A failure on one chunk is logged
// and does not stop the cycle.
//
// Parameters:
//   - now: Cycle reference time (injected for testability)
//
// Returns:
//   - CycleStats: Counts of chunks examined, dropped, and failed
//   - error: Only if the expired-chunk listing itself fails
func (l *Log) RetentionCycle(ctx context.Context, now time.Time) (CycleStats, error) {
	horizon := now.UTC().Add(-l.cfg.Retention())
	chunks, err := l.chunksWhere(ctx, `end_ts <= ?`, formatTS(horizon))
	if err != nil {
		return CycleStats{}, err
	}

	stats := CycleStats{Examined: len(chunks)}
	for _, c := range chunks {
		if err := l.dropChunk(ctx, c.ID); err != nil {
			stats.Failed++
			l.logger.Error("chunk drop failed",
				"chunk_id", c.ID,
				"start_ts", c.StartTS,
				"error", err)
			continue
		}
		stats.Done++
	}
	if stats.Done > 0 || stats.Failed > 0 {
		l.logger.Info("retention cycle complete",
			"dropped", stats.Done,
			"failed", stats.Failed)
	}
	return stats, nil
}

func (l *Log) dropChunk(ctx context.Context, chunkID int64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin drop: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunk_archive WHERE chunk_id = ?`, chunkID); err != nil {
		return fmt.Errorf("delete archive: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM measurements WHERE chunk_id = ?`, chunkID); err != nil {
		return fmt.Errorf("delete raw rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE chunk_id = ?`, chunkID); err != nil {
		return fmt.Errorf("delete chunk: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit drop: %w", err)
	}
	return nil
}
