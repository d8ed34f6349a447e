package mlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ventra-io/fieldcore/internal/infrastructure/config"
	"github.com/ventra-io/fieldcore/internal/infrastructure/logging"
)

// Log provides append and query access to the measurement log, plus the
// maintenance cycles that manage the chunk lifecycle.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Appends run in short
//     per-write transactions; maintenance touches one chunk per
//     transaction and never blocks appends.
type Log struct {
	db     *sql.DB
	cfg    config.LogConfig
	logger *logging.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates a measurement log over an open database.
//
// Parameters:
//   - db: Database handle (schema already migrated)
//   - cfg: Chunk window, bucket count, and lifecycle policy
//   - logger: Structured logger
//
// Returns:
//   - *Log: Ready-to-use measurement log
//   - error: If the zstd codec fails to initialise
func New(db *sql.DB, cfg config.LogConfig, logger *logging.Logger) (*Log, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Log{
		db:      db,
		cfg:     cfg,
		logger:  logger.With("component", "mlog"),
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Close releases the codec resources. The database handle is owned by the
// caller and is not closed.
func (l *Log) Close() {
	l.encoder.Close()
	l.decoder.Close()
}

// Append writes one measurement. The write is an atomic upsert on the
// (site_id, point_id, ts_utc) key: a replayed delivery replaces value and
// quality rather than duplicating the row.
//
// The destination chunk is resolved (and created on first write) inside
// the same transaction. A write landing in a compressed chunk marks it
// dirty; the next compression cycle folds the raw rows into the archive.
//
// Returns:
//   - error: ErrInvalidMeasurement, ErrUnknownReference, or a wrapped
//     storage error
func (l *Log) Append(ctx context.Context, m Measurement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.SchemaVer == 0 {
		m.SchemaVer = 1
	}

	start := windowStart(m.TS, l.cfg.ChunkWindow())
	end := start.Add(l.cfg.ChunkWindow())
	bucket := bucketFor(m.SiteID, l.cfg.SiteBuckets)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	chunkID, state, err := ensureChunk(ctx, tx, start, end, bucket)
	if err != nil {
		return err
	}
	if state == ChunkCompressed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chunks SET state = ? WHERE chunk_id = ?`, ChunkDirty, chunkID); err != nil {
			return fmt.Errorf("mark chunk dirty: %w", err)
		}
		l.logger.Debug("late write into compressed chunk",
			"chunk_id", chunkID,
			"site_id", m.SiteID,
			"point_id", m.PointID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO measurements (site_id, point_id, chunk_id, point_name, unit, ts_utc, value, quality, schema_version, meta_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_id, point_id, ts_utc) DO UPDATE SET
			chunk_id = excluded.chunk_id,
			point_name = excluded.point_name,
			unit = excluded.unit,
			value = excluded.value,
			quality = excluded.quality,
			schema_version = excluded.schema_version,
			meta_hash = excluded.meta_hash
	`, m.SiteID, m.PointID, chunkID, m.PointName, nullableString(m.Unit),
		formatTS(m.TS), nullableFloat(m.Value), nullableInt(m.Quality),
		m.SchemaVer, nullableString(m.MetaHash))
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: site %s / point %s", ErrUnknownReference, m.SiteID, m.PointID)
		}
		return fmt.Errorf("insert measurement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// isForeignKeyError checks if an error is a SQLite foreign key violation.
func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// scanMeasurement reads one measurements row. Column order must match
// measurementCols.
func scanMeasurement(scan func(dest ...any) error) (Measurement, error) {
	var m Measurement
	var unit, metaHash sql.NullString
	var value sql.NullFloat64
	var quality sql.NullInt64
	var ts string
	if err := scan(&m.SiteID, &m.PointID, &m.PointName, &unit, &ts, &value, &quality, &m.SchemaVer, &metaHash); err != nil {
		return Measurement{}, err
	}
	var err error
	if m.TS, err = parseTS(ts); err != nil {
		return Measurement{}, err
	}
	if unit.Valid {
		m.Unit = &unit.String
	}
	if value.Valid {
		m.Value = &value.Float64
	}
	if quality.Valid {
		q := int(quality.Int64)
		m.Quality = &q
	}
	if metaHash.Valid {
		m.MetaHash = &metaHash.String
	}
	return m, nil
}

const measurementCols = `site_id, point_id, point_name, unit, ts_utc, value, quality, schema_version, meta_hash`

// windowBounds returns the chunk window and bucket that a timestamp and
// site fall into. Exposed for tests and maintenance introspection.
func (l *Log) windowBounds(ts time.Time, siteID string) (time.Time, time.Time, int) {
	start := windowStart(ts, l.cfg.ChunkWindow())
	return start, start.Add(l.cfg.ChunkWindow()), bucketFor(siteID, l.cfg.SiteBuckets)
}
