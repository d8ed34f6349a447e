package mlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"
)

// bucketFor maps a site ID onto one of the fixed site buckets. FNV-1a is
// stable across process restarts, so a site's measurements always land in
// the same bucket and its chunks never overlap in time.
func bucketFor(siteID string, buckets int) int {
	h := fnv.New32a()
	h.Write([]byte(siteID))
	return int(h.Sum32() % uint32(buckets))
}

// windowStart truncates a timestamp to the start of its UTC-aligned
// chunk window.
func windowStart(ts time.Time, window time.Duration) time.Time {
	return ts.UTC().Truncate(window)
}

// ensureChunk resolves the chunk for a (window, bucket) pair inside the
// caller's transaction, creating the metadata row on first write. Returns
// the chunk ID and its current state.
func ensureChunk(ctx context.Context, tx *sql.Tx, start, end time.Time, bucket int) (int64, string, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chunks (start_ts, end_ts, site_bucket, state, row_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(start_ts, site_bucket) DO NOTHING
	`, formatTS(start), formatTS(end), bucket, ChunkOpen, formatTS(time.Now()))
	if err != nil {
		return 0, "", fmt.Errorf("create chunk: %w", err)
	}

	var id int64
	var state string
	err = tx.QueryRowContext(ctx, `
		SELECT chunk_id, state FROM chunks WHERE start_ts = ? AND site_bucket = ?
	`, formatTS(start), bucket).Scan(&id, &state)
	if err != nil {
		return 0, "", fmt.Errorf("resolve chunk: %w", err)
	}
	return id, state, nil
}

// getChunk loads chunk metadata by ID.
func (l *Log) getChunk(ctx context.Context, id int64) (*Chunk, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT chunk_id, start_ts, end_ts, site_bucket, state, row_count, created_at, compressed_at
		FROM chunks WHERE chunk_id = ?
	`, id)
	c, err := scanChunk(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk %d: %w", id, err)
	}
	return c, nil
}

// chunksWhere lists chunks matching a filter clause, oldest window first.
func (l *Log) chunksWhere(ctx context.Context, clause string, args ...any) ([]*Chunk, error) {
	query := `
		SELECT chunk_id, start_ts, end_ts, site_bucket, state, row_count, created_at, compressed_at
		FROM chunks WHERE ` + clause + ` ORDER BY start_ts ASC, site_bucket ASC`
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func scanChunk(scan func(dest ...any) error) (*Chunk, error) {
	var c Chunk
	var startTS, endTS, createdAt string
	var compressedAt sql.NullString
	if err := scan(&c.ID, &startTS, &endTS, &c.SiteBucket, &c.State, &c.RowCount, &createdAt, &compressedAt); err != nil {
		return nil, err
	}
	var err error
	if c.StartTS, err = parseTS(startTS); err != nil {
		return nil, err
	}
	if c.EndTS, err = parseTS(endTS); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, err
	}
	if compressedAt.Valid {
		t, err := parseTS(compressedAt.String)
		if err != nil {
			return nil, err
		}
		c.CompressedAt = &t
	}
	return &c, nil
}
