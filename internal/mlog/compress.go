package mlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// archiveRow is the persisted form of one measurement inside a chunk's
// zstd block. Field names are part of the on-disk format.
type archiveRow struct {
	SiteID    string   `json:"site_id"`
	PointID   string   `json:"point_id"`
	PointName string   `json:"point_name"`
	Unit      *string  `json:"unit,omitempty"`
	TS        string   `json:"ts_utc"`
	Value     *float64 `json:"value"`
	Quality   *int     `json:"quality,omitempty"`
	SchemaVer int      `json:"schema_version"`
	MetaHash  *string  `json:"meta_hash,omitempty"`
}

func toArchiveRow(m Measurement) archiveRow {
	return archiveRow{
		SiteID:    m.SiteID,
		PointID:   m.PointID,
		PointName: m.PointName,
		Unit:      m.Unit,
		TS:        formatTS(m.TS),
		Value:     m.Value,
		Quality:   m.Quality,
		SchemaVer: m.SchemaVer,
		MetaHash:  m.MetaHash,
	}
}

func (r archiveRow) toMeasurement() (Measurement, error) {
	ts, err := parseTS(r.TS)
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{
		SiteID:    r.SiteID,
		PointID:   r.PointID,
		PointName: r.PointName,
		Unit:      r.Unit,
		TS:        ts,
		Value:     r.Value,
		Quality:   r.Quality,
		SchemaVer: r.SchemaVer,
		MetaHash:  r.MetaHash,
	}, nil
}

// CompressCycle compresses every chunk whose window has aged past the
// compression threshold and is still open, and recompresses dirty chunks.
// Each chunk is processed in its own transaction; a failure is logged and
// the chunk retried on the next cycle.
//
// Parameters:
//   - now: Cycle reference time (injected for testability)
//
// Returns:
//   - CycleStats: Counts of chunks examined, compressed, and failed
//   - error: Only if the eligible-chunk listing itself fails
func (l *Log) CompressCycle(ctx context.Context, now time.Time) (CycleStats, error) {
	cutoff := now.UTC().Add(-l.cfg.CompressAfter())
	chunks, err := l.chunksWhere(ctx, `end_ts <= ? AND state IN (?, ?)`,
		formatTS(cutoff), ChunkOpen, ChunkDirty)
	if err != nil {
		return CycleStats{}, err
	}

	stats := CycleStats{Examined: len(chunks)}
	for _, c := range chunks {
		if err := l.compressChunk(ctx, c); err != nil {
			stats.Failed++
			l.logger.Error("chunk compression failed",
				"chunk_id", c.ID,
				"start_ts", c.StartTS,
				"state", c.State,
				"error", err)
			continue
		}
		stats.Done++
	}
	if stats.Done > 0 || stats.Failed > 0 {
		l.logger.Info("compression cycle complete",
			"compressed", stats.Done,
			"failed", stats.Failed)
	}
	return stats, nil
}

// compressChunk rewrites one chunk's rows as a zstd block. For a dirty
// chunk the existing archive is decoded and merged with the raw rows, raw
// winning per (site, point, ts) key, then the merged set replaces the
// archive. Raw rows are deleted and the chunk marked compressed in the
// same transaction, so readers see either the old or the new layout,
// never a mix.
func (l *Log) compressChunk(ctx context.Context, c *Chunk) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin compression: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+measurementCols+` FROM measurements WHERE chunk_id = ?`, c.ID)
	if err != nil {
		return fmt.Errorf("load chunk rows: %w", err)
	}
	merged := make(map[string]Measurement)
	for rows.Next() {
		m, err := scanMeasurement(rows.Scan)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scan chunk row: %w", err)
		}
		merged[measurementKey(m)] = m
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate chunk rows: %w", err)
	}

	if c.State == ChunkDirty {
		archived, err := l.loadArchiveTx(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		for _, m := range archived {
			key := measurementKey(m)
			if _, overwritten := merged[key]; !overwritten {
				merged[key] = m
			}
		}
	}

	encoded := make([]archiveRow, 0, len(merged))
	var rawBytes int
	for _, m := range merged {
		encoded = append(encoded, toArchiveRow(m))
	}
	payload, err := json.Marshal(encoded)
	if err != nil {
		return fmt.Errorf("encode archive block: %w", err)
	}
	rawBytes = len(payload)
	compressed := l.encoder.EncodeAll(payload, nil)

	now := formatTS(time.Now())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO chunk_archive (chunk_id, codec, row_count, raw_bytes, payload, archived_at)
		VALUES (?, 'zstd', ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			row_count = excluded.row_count,
			raw_bytes = excluded.raw_bytes,
			payload = excluded.payload,
			archived_at = excluded.archived_at
	`, c.ID, len(merged), rawBytes, compressed, now)
	if err != nil {
		return fmt.Errorf("write archive block: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM measurements WHERE chunk_id = ?`, c.ID); err != nil {
		return fmt.Errorf("delete raw rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE chunks SET state = ?, row_count = ?, compressed_at = ? WHERE chunk_id = ?
	`, ChunkCompressed, len(merged), now, c.ID); err != nil {
		return fmt.Errorf("mark chunk compressed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit compression: %w", err)
	}
	return nil
}

// loadArchive decodes the archive block of one chunk. Returns nil with no
// error when the chunk has no archive row.
func (l *Log) loadArchive(ctx context.Context, chunkID int64) ([]Measurement, error) {
	var payload []byte
	err := l.db.QueryRowContext(ctx,
		`SELECT payload FROM chunk_archive WHERE chunk_id = ?`, chunkID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load archive %d: %w", chunkID, err)
	}
	return l.decodeArchive(chunkID, payload)
}

func (l *Log) loadArchiveTx(ctx context.Context, tx *sql.Tx, chunkID int64) ([]Measurement, error) {
	var payload []byte
	err := tx.QueryRowContext(ctx,
		`SELECT payload FROM chunk_archive WHERE chunk_id = ?`, chunkID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load archive %d: %w", chunkID, err)
	}
	return l.decodeArchive(chunkID, payload)
}

func (l *Log) decodeArchive(chunkID int64, payload []byte) ([]Measurement, error) {
	raw, err := l.decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress archive %d: %w", chunkID, err)
	}
	var encoded []archiveRow
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("decode archive %d: %w", chunkID, err)
	}
	out := make([]Measurement, 0, len(encoded))
	for _, r := range encoded {
		m, err := r.toMeasurement()
		if err != nil {
			return nil, fmt.Errorf("decode archive %d: %w", chunkID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func measurementKey(m Measurement) string {
	return m.SiteID + "\x00" + m.PointID + "\x00" + formatTS(m.TS)
}
