package devstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// tsFormat matches the fixed-width encoding used across the schema so
// lexicographic order on stored timestamps is chronological.
const tsFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists device operational state.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Reconcile is a single
//     SQL statement; concurrent heartbeats for one device serialize at
//     the database and each merges only the fields it carries.
type Store struct {
	db *sql.DB
}

// NewStore creates a device state store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Reconcile merges one heartbeat report into the device's stored row,
// creating the row on first contact. Fields absent from the report keep
// their stored values; last_seen always advances to receivedAt.
//
// Parameters:
//   - report: Validated heartbeat payload
//   - receivedAt: Server receive time, recorded as last_seen
//
// Returns:
//   - error: ErrInvalidReport, ErrUnknownDevice, or a wrapped storage error
func (s *Store) Reconcile(ctx context.Context, report Report, receivedAt time.Time) error {
	if err := report.Validate(); err != nil {
		return err
	}

	now := formatTS(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_state (
			device_id, site_id, last_seen_ts, last_upload_ts, queue_depth,
			agent_version, poll_interval_s, cpu_pct, disk_free_gb, status, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			site_id         = excluded.site_id,
			last_seen_ts    = excluded.last_seen_ts,
			last_upload_ts  = COALESCE(excluded.last_upload_ts, device_state.last_upload_ts),
			queue_depth     = COALESCE(excluded.queue_depth, device_state.queue_depth),
			agent_version   = COALESCE(excluded.agent_version, device_state.agent_version),
			poll_interval_s = COALESCE(excluded.poll_interval_s, device_state.poll_interval_s),
			cpu_pct         = COALESCE(excluded.cpu_pct, device_state.cpu_pct),
			disk_free_gb    = COALESCE(excluded.disk_free_gb, device_state.disk_free_gb),
			status          = COALESCE(excluded.status, device_state.status),
			updated_at      = excluded.updated_at
	`, report.DeviceID, report.SiteID, formatTS(receivedAt),
		nullableTime(report.LastUpload), nullableInt(report.QueueDepth),
		nullableString(report.AgentVersion), nullableInt(report.PollIntervalS),
		nullableFloat(report.CPUPct), nullableFloat(report.DiskFreeGB),
		nullableStatus(report.Status), now)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: device %s / site %s", ErrUnknownDevice, report.DeviceID, report.SiteID)
		}
		return fmt.Errorf("reconcile device %s: %w", report.DeviceID, err)
	}
	return nil
}

// Get returns a device's current state row.
//
// Returns:
//   - *DeviceState: The stored state
//   - error: ErrDeviceNotFound if the device has never reported
func (s *Store) Get(ctx context.Context, deviceID string) (*DeviceState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, site_id, last_seen_ts, last_upload_ts, queue_depth,
		       agent_version, poll_interval_s, cpu_pct, disk_free_gb, status, updated_at
		FROM device_state WHERE device_id = ?
	`, deviceID)
	state, err := scanState(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get device state %s: %w", deviceID, err)
	}
	return state, nil
}

// ListBySite returns the state rows of every reporting device at a site,
// most recently seen first.
func (s *Store) ListBySite(ctx context.Context, siteID string) ([]*DeviceState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, site_id, last_seen_ts, last_upload_ts, queue_depth,
		       agent_version, poll_interval_s, cpu_pct, disk_free_gb, status, updated_at
		FROM device_state WHERE site_id = ? ORDER BY last_seen_ts DESC
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("list device state for site %s: %w", siteID, err)
	}
	defer rows.Close()

	var states []*DeviceState
	for rows.Next() {
		state, err := scanState(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan device state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func scanState(scan func(dest ...any) error) (*DeviceState, error) {
	var st DeviceState
	var lastSeen, updatedAt string
	var lastUpload, agentVersion, status sql.NullString
	var queueDepth, pollInterval sql.NullInt64
	var cpuPct, diskFree sql.NullFloat64
	if err := scan(&st.DeviceID, &st.SiteID, &lastSeen, &lastUpload, &queueDepth,
		&agentVersion, &pollInterval, &cpuPct, &diskFree, &status, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if st.LastSeen, err = parseTS(lastSeen); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return nil, err
	}
	if lastUpload.Valid {
		t, err := parseTS(lastUpload.String)
		if err != nil {
			return nil, err
		}
		st.LastUpload = &t
	}
	if queueDepth.Valid {
		v := int(queueDepth.Int64)
		st.QueueDepth = &v
	}
	if agentVersion.Valid {
		st.AgentVersion = &agentVersion.String
	}
	if pollInterval.Valid {
		v := int(pollInterval.Int64)
		st.PollIntervalS = &v
	}
	if cpuPct.Valid {
		st.CPUPct = &cpuPct.Float64
	}
	if diskFree.Valid {
		st.DiskFreeGB = &diskFree.Float64
	}
	if status.Valid {
		st.Status = Status(status.String)
	}
	return &st, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableStatus(s *Status) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*s), Valid: true}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTS(*t), Valid: true}
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsFormat)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsFormat, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

// isForeignKeyError checks if an error is a SQLite foreign key violation.
func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
