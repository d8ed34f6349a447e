package views

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ventra-io/fieldcore/internal/devstate"
	"github.com/ventra-io/fieldcore/internal/infrastructure/config"
	"github.com/ventra-io/fieldcore/internal/infrastructure/logging"
	"github.com/ventra-io/fieldcore/internal/mlog"
)

// Sentinel errors returned by view operations.
var (
	// ErrPointNotFound indicates a latest-value lookup for a point with
	// no materialised row.
	ErrPointNotFound = errors.New("views: point not found")

	// ErrRefreshInProgress indicates a refresh was skipped because the
	// previous one is still running.
	ErrRefreshInProgress = errors.New("views: refresh already in progress")
)

const tsFormat = "2006-01-02T15:04:05.000000000Z07:00"

// LatestValue is one row of the materialised latest-per-point view.
type LatestValue struct {
	PointID     string
	SiteID      string
	PointName   string
	Unit        *string
	TS          time.Time
	Value       *float64
	Quality     *int
	RefreshedAt time.Time
}

// StaleDevice is one entry of the stale-device view: a device whose last
// heartbeat is older than the staleness threshold.
type StaleDevice struct {
	DeviceID string
	SiteID   string
	LastSeen time.Time
	Age      time.Duration
	Status   devstate.Status
}

// Service computes and serves the derived views.
//
// Thread Safety:
//   - All methods are safe for concurrent use. RefreshLatest is
//     non-reentrant by design: overlapping calls return
//     ErrRefreshInProgress instead of running twice.
type Service struct {
	db     *sql.DB
	log    *mlog.Log
	cfg    config.ViewsConfig
	logger *logging.Logger

	refreshMu sync.Mutex
}

// NewService creates the views service.
func NewService(db *sql.DB, log *mlog.Log, cfg config.ViewsConfig, logger *logging.Logger) *Service {
	return &Service{
		db:     db,
		log:    log,
		cfg:    cfg,
		logger: logger.With("component", "views"),
	}
}

// RefreshLatest recomputes the materialised latest-per-point view from
// the measurement log and swaps it in atomically. If a refresh is already
// running the call returns ErrRefreshInProgress without doing work.
func (s *Service) RefreshLatest(ctx context.Context) error {
	if !s.refreshMu.TryLock() {
		return ErrRefreshInProgress
	}
	defer s.refreshMu.Unlock()

	started := time.Now()
	latest, err := s.log.LatestPerPoint(ctx)
	if err != nil {
		return fmt.Errorf("compute latest per point: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refresh: %w", err)
	}
	defer tx.Rollback()

	// Full rebuild inside one transaction: readers see the old view or
	// the new one, never a partial state.
	if _, err := tx.ExecContext(ctx, `DELETE FROM point_latest`); err != nil {
		return fmt.Errorf("clear view: %w", err)
	}
	refreshedAt := started.UTC().Format(tsFormat)
	for _, m := range latest {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO point_latest (point_id, site_id, point_name, unit, ts_utc, value, quality, refreshed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, m.PointID, m.SiteID, m.PointName, nullableString(m.Unit),
			m.TS.UTC().Format(tsFormat), nullableFloat(m.Value), nullableInt(m.Quality), refreshedAt)
		if err != nil {
			return fmt.Errorf("write view row for point %s: %w", m.PointID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refresh: %w", err)
	}

	s.logger.Debug("latest view refreshed",
		"points", len(latest),
		"duration_ms", time.Since(started).Milliseconds())
	return nil
}

// PointLatest returns the materialised latest value of one point.
//
// Returns:
//   - *LatestValue: The latest reading as of the last refresh
//   - error: ErrPointNotFound if the point has no materialised row
func (s *Service) PointLatest(ctx context.Context, pointID string) (*LatestValue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT point_id, site_id, point_name, unit, ts_utc, value, quality, refreshed_at
		FROM point_latest WHERE point_id = ?
	`, pointID)
	v, err := scanLatest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPointNotFound, pointID)
	}
	if err != nil {
		return nil, fmt.Errorf("get latest for point %s: %w", pointID, err)
	}
	return v, nil
}

// ListLatest returns the whole materialised latest view, optionally
// filtered to one site. Rows are ordered by site then point name for
// stable dashboard rendering.
func (s *Service) ListLatest(ctx context.Context, siteID string) ([]*LatestValue, error) {
	query := `
		SELECT point_id, site_id, point_name, unit, ts_utc, value, quality, refreshed_at
		FROM point_latest`
	var args []any
	if siteID != "" {
		query += ` WHERE site_id = ?`
		args = append(args, siteID)
	}
	query += ` ORDER BY site_id ASC, point_name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list latest view: %w", err)
	}
	defer rows.Close()

	var out []*LatestValue
	for rows.Next() {
		v, err := scanLatest(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan latest row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Recent returns the latest reading per point restricted to the
// configured recent window, computed live against the measurement log.
// Points silent for longer than the window are absent.
func (s *Service) Recent(ctx context.Context, now time.Time) ([]*LatestValue, error) {
	latest, err := s.log.RecentLatest(ctx, s.cfg.RecentWindow(), now)
	if err != nil {
		return nil, fmt.Errorf("compute recent view: %w", err)
	}
	out := make([]*LatestValue, 0, len(latest))
	for _, m := range latest {
		v := &LatestValue{
			PointID:   m.PointID,
			SiteID:    m.SiteID,
			PointName: m.PointName,
			Unit:      m.Unit,
			TS:        m.TS,
			Value:     m.Value,
			Quality:   m.Quality,
		}
		out = append(out, v)
	}
	sortLatest(out)
	return out, nil
}

// StaleDevices returns devices whose last heartbeat is strictly older
// than the staleness threshold, most stale first. A device exactly at the
// threshold is not yet stale.
func (s *Service) StaleDevices(ctx context.Context, now time.Time) ([]*StaleDevice, error) {
	cutoff := now.UTC().Add(-s.cfg.GetStaleThreshold())
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, site_id, last_seen_ts, status
		FROM device_state
		WHERE last_seen_ts < ?
		ORDER BY last_seen_ts ASC
	`, cutoff.Format(tsFormat))
	if err != nil {
		return nil, fmt.Errorf("query stale devices: %w", err)
	}
	defer rows.Close()

	var out []*StaleDevice
	for rows.Next() {
		var d StaleDevice
		var lastSeen string
		var status sql.NullString
		if err := rows.Scan(&d.DeviceID, &d.SiteID, &lastSeen, &status); err != nil {
			return nil, fmt.Errorf("scan stale device: %w", err)
		}
		t, err := time.Parse(tsFormat, lastSeen)
		if err != nil {
			return nil, fmt.Errorf("parse last_seen %q: %w", lastSeen, err)
		}
		d.LastSeen = t.UTC()
		d.Age = now.UTC().Sub(d.LastSeen)
		if status.Valid {
			d.Status = devstate.Status(status.String)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func scanLatest(scan func(dest ...any) error) (*LatestValue, error) {
	var v LatestValue
	var unit sql.NullString
	var value sql.NullFloat64
	var quality sql.NullInt64
	var ts, refreshedAt string
	if err := scan(&v.PointID, &v.SiteID, &v.PointName, &unit, &ts, &value, &quality, &refreshedAt); err != nil {
		return nil, err
	}
	parsed, err := time.Parse(tsFormat, ts)
	if err != nil {
		return nil, fmt.Errorf("parse ts %q: %w", ts, err)
	}
	v.TS = parsed.UTC()
	parsed, err = time.Parse(tsFormat, refreshedAt)
	if err != nil {
		return nil, fmt.Errorf("parse refreshed_at %q: %w", refreshedAt, err)
	}
	v.RefreshedAt = parsed.UTC()
	if unit.Valid {
		v.Unit = &unit.String
	}
	if value.Valid {
		v.Value = &value.Float64
	}
	if quality.Valid {
		q := int(quality.Int64)
		v.Quality = &q
	}
	return &v, nil
}

// sortLatest gives dashboards a stable order: site, then point name.
func sortLatest(vs []*LatestValue) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].SiteID != vs[j].SiteID {
			return vs[i].SiteID < vs[j].SiteID
		}
		return vs[i].PointName < vs[j].PointName
	})
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
