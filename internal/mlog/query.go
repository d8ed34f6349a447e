package mlog

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// PointRange returns the measurements of one point within [from, to),
// newest first, capped at limit (0 means no cap). Raw rows and archive
// blocks of overlapping chunks are merged with raw rows winning per key,
// so results do not depend on chunk state.
//
// Parameters:
//   - siteID: Site owning the point (selects the chunk bucket)
//   - pointID: Point to read
//   - from, to: Half-open UTC time range
//   - limit: Maximum rows returned, newest first
func (l *Log) PointRange(ctx context.Context, siteID, pointID string, from, to time.Time, limit int) ([]Measurement, error) {
	merged, err := l.rangeMerged(ctx, from, to,
		`site_id = ? AND point_id = ?`, []any{siteID, pointID},
		func(m Measurement) bool { return m.SiteID == siteID && m.PointID == pointID },
		&siteID)
	if err != nil {
		return nil, err
	}
	return sortAndCap(merged, limit), nil
}

// SiteRange returns the measurements of every point of one site within
// [from, to), newest first, capped at limit (0 means no cap).
func (l *Log) SiteRange(ctx context.Context, siteID string, from, to time.Time, limit int) ([]Measurement, error) {
	merged, err := l.rangeMerged(ctx, from, to,
		`site_id = ?`, []any{siteID},
		func(m Measurement) bool { return m.SiteID == siteID },
		&siteID)
	if err != nil {
		return nil, err
	}
	return sortAndCap(merged, limit), nil
}

// rangeMerged collects matching rows from the raw table and from the
// archives of chunks overlapping the range. Raw rows are loaded last so
// they replace any archived copy of the same key.
func (l *Log) rangeMerged(ctx context.Context, from, to time.Time,
	rawClause string, rawArgs []any,
	match func(Measurement) bool, siteID *string) (map[string]Measurement, error) {

	clause := `start_ts < ? AND end_ts > ? AND state IN (?, ?)`
	args := []any{formatTS(to), formatTS(from), ChunkCompressed, ChunkDirty}
	if siteID != nil {
		clause += ` AND site_bucket = ?`
		args = append(args, bucketFor(*siteID, l.cfg.SiteBuckets))
	}
	chunks, err := l.chunksWhere(ctx, clause, args...)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]Measurement)
	for _, c := range chunks {
		archived, err := l.loadArchive(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range archived {
			if !match(m) || !inRange(m.TS, from, to) {
				continue
			}
			merged[measurementKey(m)] = m
		}
	}

	query := `SELECT ` + measurementCols + ` FROM measurements WHERE ` + rawClause +
		` AND ts_utc >= ? AND ts_utc < ?`
	queryArgs := append(append([]any{}, rawArgs...), formatTS(from), formatTS(to))
	rows, err := l.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("query raw range: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMeasurement(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan raw range: %w", err)
		}
		merged[measurementKey(m)] = m
	}
	return merged, rows.Err()
}

// LatestPerPoint computes the newest measurement of every point that has
// any history. The raw table is scanned with a grouped query; archived
// chunks are decoded newest-window-first and the walk stops as soon as
// every catalogued point already holds a candidate at least as new as the
// next chunk's window end.
func (l *Log) LatestPerPoint(ctx context.Context) (map[string]Measurement, error) {
	best := make(map[string]Measurement)

	rows, err := l.db.QueryContext(ctx, `
		SELECT m.site_id, m.point_id, m.point_name, m.unit, m.ts_utc, m.value, m.quality, m.schema_version, m.meta_hash
		FROM measurements m
		JOIN (
			SELECT point_id, MAX(ts_utc) AS max_ts FROM measurements GROUP BY point_id
		) newest ON newest.point_id = m.point_id AND newest.max_ts = m.ts_utc
	`)
	if err != nil {
		return nil, fmt.Errorf("query raw latest: %w", err)
	}
	for rows.Next() {
		m, err := scanMeasurement(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan raw latest: %w", err)
		}
		best[m.PointID] = m
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pointIDs, err := l.cataloguedPoints(ctx)
	if err != nil {
		return nil, err
	}

	archived, err := l.chunksWhere(ctx,
		`state IN (?, ?)`, ChunkCompressed, ChunkDirty)
	if err != nil {
		return nil, err
	}
	// Newest window first so the earliest possible stopping point is hit.
	sort.Slice(archived, func(i, j int) bool {
		return archived[i].EndTS.After(archived[j].EndTS)
	})
	for _, c := range archived {
		if allCoveredBy(best, pointIDs, c.EndTS) {
			break
		}
		ms, err := l.loadArchive(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range ms {
			if cur, ok := best[m.PointID]; !ok || m.TS.After(cur.TS) {
				best[m.PointID] = m
			}
		}
	}
	return best, nil
}

// RecentLatest computes the latest measurement per point restricted to
// the window [now-window, now]. Points with no reading inside the window
// are absent from the result. This runs live against storage on every
// call; it is not materialised.
func (l *Log) RecentLatest(ctx context.Context, window time.Duration, now time.Time) (map[string]Measurement, error) {
	from := now.UTC().Add(-window)
	to := now.UTC().Add(time.Nanosecond) // inclusive upper bound

	merged, err := l.rangeMerged(ctx, from, to,
		`1 = 1`, nil,
		func(m Measurement) bool { return true },
		nil)
	if err != nil {
		return nil, err
	}

	best := make(map[string]Measurement)
	for _, m := range merged {
		if cur, ok := best[m.PointID]; !ok || m.TS.After(cur.TS) {
			best[m.PointID] = m
		}
	}
	return best, nil
}

func (l *Log) cataloguedPoints(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT point_id FROM points`)
	if err != nil {
		return nil, fmt.Errorf("list points: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// allCoveredBy reports whether every point already holds a candidate no
// older than cutoff, meaning chunks ending at or before cutoff cannot
// improve the result.
func allCoveredBy(best map[string]Measurement, pointIDs []string, cutoff time.Time) bool {
	for _, id := range pointIDs {
		m, ok := best[id]
		if !ok || m.TS.Before(cutoff) {
			return false
		}
	}
	return true
}

func inRange(ts, from, to time.Time) bool {
	return !ts.Before(from) && ts.Before(to)
}

func sortAndCap(merged map[string]Measurement, limit int) []Measurement {
	out := make([]Measurement, 0, len(merged))
	for _, m := range merged {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TS.Equal(out[j].TS) {
			return out[i].TS.After(out[j].TS)
		}
		if out[i].SiteID != out[j].SiteID {
			return out[i].SiteID < out[j].SiteID
		}
		return out[i].PointID < out[j].PointID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
