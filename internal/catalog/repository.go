package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for catalog persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// CreateSite inserts a new site.
	// Returns ErrSiteExists if a site with the same ID already exists.
	CreateSite(ctx context.Context, site *Site) error

	// GetSite retrieves a site by its identifier.
	// Returns ErrSiteNotFound if the site does not exist.
	GetSite(ctx context.Context, id string) (*Site, error)

	// ListSites retrieves all sites.
	ListSites(ctx context.Context) ([]Site, error)

	// DeleteSite removes a site and, through FK cascade, all of its
	// devices, points, device state, and measurements.
	// Returns ErrSiteNotFound if the site does not exist.
	DeleteSite(ctx context.Context, id string) error

	// CreateDevice inserts a new device.
	// Returns ErrDeviceExists on duplicate ID, ErrSiteNotFound if the
	// owning site does not exist.
	CreateDevice(ctx context.Context, device *Device) error

	// GetDevice retrieves a device by its identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetDevice(ctx context.Context, id string) (*Device, error)

	// ListDevices retrieves all devices for a site.
	ListDevices(ctx context.Context, siteID string) ([]Device, error)

	// CreatePoint inserts a new point.
	// Returns ErrPointExists on duplicate ID, ErrPointNameTaken when the
	// (site, name) pair is already in use, ErrSiteNotFound /
	// ErrDeviceNotFound on a dangling reference.
	CreatePoint(ctx context.Context, point *Point) error

	// GetPoint retrieves a point by its identifier.
	// Returns ErrPointNotFound if the point does not exist.
	GetPoint(ctx context.Context, id string) (*Point, error)

	// GetPointByName retrieves a point by its (site, name) uniqueness key.
	// Returns ErrPointNotFound if no such point exists.
	GetPointByName(ctx context.Context, siteID, name string) (*Point, error)

	// ListPoints retrieves all points for a site.
	ListPoints(ctx context.Context, siteID string) ([]Point, error)

	// SiteExists reports whether the site ID is known.
	SiteExists(ctx context.Context, id string) (bool, error)

	// DeviceExists reports whether the device ID is known.
	DeviceExists(ctx context.Context, id string) (bool, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed catalog repository.
// The db parameter should be an open SQLite connection with foreign keys on.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateSite inserts a new site.
func (r *SQLiteRepository) CreateSite(ctx context.Context, site *Site) error {
	if err := site.Validate(); err != nil {
		return err
	}

	if site.Timezone == "" {
		site.Timezone = "UTC"
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sites (site_id, display_name, tz, created_at) VALUES (?, ?, ?, ?)",
		site.ID,
		site.DisplayName,
		site.Timezone,
		site.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSiteExists
		}
		return fmt.Errorf("inserting site: %w", err)
	}
	return nil
}

// GetSite retrieves a site by its identifier.
func (r *SQLiteRepository) GetSite(ctx context.Context, id string) (*Site, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT site_id, display_name, tz, created_at FROM sites WHERE site_id = ?",
		id,
	)

	var s Site
	var createdAt string
	if err := row.Scan(&s.ID, &s.DisplayName, &s.Timezone, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSiteNotFound
		}
		return nil, fmt.Errorf("querying site: %w", err)
	}
	s.CreatedAt = parseStoredTime(createdAt)
	return &s, nil
}

// ListSites retrieves all sites ordered by identifier.
func (r *SQLiteRepository) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT site_id, display_name, tz, created_at FROM sites ORDER BY site_id",
	)
	if err != nil {
		return nil, fmt.Errorf("querying sites: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var s Site
		var createdAt string
		if err := rows.Scan(&s.ID, &s.DisplayName, &s.Timezone, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning site: %w", err)
		}
		s.CreatedAt = parseStoredTime(createdAt)
		sites = append(sites, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sites: %w", err)
	}
	return sites, nil
}

// DeleteSite removes a site. FK cascade removes its devices, points,
// device state, and measurements in the same statement.
func (r *SQLiteRepository) DeleteSite(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM sites WHERE site_id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting site: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSiteNotFound
	}
	return nil
}

// CreateDevice inserts a new device.
func (r *SQLiteRepository) CreateDevice(ctx context.Context, device *Device) error {
	if err := device.Validate(); err != nil {
		return err
	}

	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO devices (device_id, site_id, model, created_at) VALUES (?, ?, ?, ?)",
		device.ID,
		device.SiteID,
		nullableString(device.Model),
		device.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		if isForeignKeyError(err) {
			return ErrSiteNotFound
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by its identifier.
func (r *SQLiteRepository) GetDevice(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT device_id, site_id, model, created_at FROM devices WHERE device_id = ?",
		id,
	)

	device, err := scanDevice(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return device, nil
}

// ListDevices retrieves all devices for a site ordered by identifier.
func (r *SQLiteRepository) ListDevices(ctx context.Context, siteID string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT device_id, site_id, model, created_at FROM devices WHERE site_id = ? ORDER BY device_id",
		siteID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// CreatePoint inserts a new point.
func (r *SQLiteRepository) CreatePoint(ctx context.Context, point *Point) error {
	if err := point.Validate(); err != nil {
		return err
	}

	if point.Tags == nil {
		point.Tags = map[string]string{}
	}
	tagsJSON, err := json.Marshal(point.Tags)
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}

	if point.CreatedAt.IsZero() {
		point.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO points (point_id, site_id, device_id, point_name, point_type, unit, tags, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		point.ID,
		point.SiteID,
		nullableString(point.DeviceID),
		point.Name,
		point.Type,
		nullableString(point.Unit),
		string(tagsJSON),
		boolToInt(point.Active),
		point.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// Two distinct uniqueness rules share the mapping: the point_id
			// primary key and the (site_id, point_name) scoped name.
			if strings.Contains(err.Error(), "points.point_id") {
				return ErrPointExists
			}
			return ErrPointNameTaken
		}
		if isForeignKeyError(err) {
			// FK failure does not say which reference dangled; check the
			// site first since it is the required one.
			if exists, checkErr := r.SiteExists(ctx, point.SiteID); checkErr == nil && !exists {
				return ErrSiteNotFound
			}
			return ErrDeviceNotFound
		}
		return fmt.Errorf("inserting point: %w", err)
	}
	return nil
}

// GetPoint retrieves a point by its identifier.
func (r *SQLiteRepository) GetPoint(ctx context.Context, id string) (*Point, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT point_id, site_id, device_id, point_name, point_type, unit, tags, active, created_at
		 FROM points WHERE point_id = ?`,
		id,
	)
	point, err := scanPoint(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPointNotFound
		}
		return nil, fmt.Errorf("querying point: %w", err)
	}
	return point, nil
}

// GetPointByName retrieves a point by its (site, name) uniqueness key.
func (r *SQLiteRepository) GetPointByName(ctx context.Context, siteID, name string) (*Point, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT point_id, site_id, device_id, point_name, point_type, unit, tags, active, created_at
		 FROM points WHERE site_id = ? AND point_name = ?`,
		siteID, name,
	)
	point, err := scanPoint(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPointNotFound
		}
		return nil, fmt.Errorf("querying point by name: %w", err)
	}
	return point, nil
}

// ListPoints retrieves all points for a site ordered by name.
func (r *SQLiteRepository) ListPoints(ctx context.Context, siteID string) ([]Point, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT point_id, site_id, device_id, point_name, point_type, unit, tags, active, created_at
		 FROM points WHERE site_id = ? ORDER BY point_name`,
		siteID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		point, err := scanPoint(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning point: %w", err)
		}
		points = append(points, *point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating points: %w", err)
	}
	return points, nil
}

// SiteExists reports whether the site ID is known.
func (r *SQLiteRepository) SiteExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM sites WHERE site_id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking site existence: %w", err)
	}
	return true, nil
}

// DeviceExists reports whether the device ID is known.
func (r *SQLiteRepository) DeviceExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM devices WHERE device_id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking device existence: %w", err)
	}
	return true, nil
}

// scanDevice scans a device row using the provided scan function.
func scanDevice(scan func(dest ...any) error) (*Device, error) {
	var d Device
	var model sql.NullString
	var createdAt string

	if err := scan(&d.ID, &d.SiteID, &model, &createdAt); err != nil {
		return nil, err
	}
	if model.Valid {
		d.Model = &model.String
	}
	d.CreatedAt = parseStoredTime(createdAt)
	return &d, nil
}

// scanPoint scans a point row using the provided scan function.
func scanPoint(scan func(dest ...any) error) (*Point, error) {
	var p Point
	var deviceID, unit sql.NullString
	var tagsJSON string
	var active int
	var createdAt string

	if err := scan(&p.ID, &p.SiteID, &deviceID, &p.Name, &p.Type, &unit, &tagsJSON, &active, &createdAt); err != nil {
		return nil, err
	}
	if deviceID.Valid {
		p.DeviceID = &deviceID.String
	}
	if unit.Valid {
		p.Unit = &unit.String
	}
	if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil {
		return nil, fmt.Errorf("unmarshalling tags: %w", err)
	}
	p.Active = active != 0
	p.CreatedAt = parseStoredTime(createdAt)
	return &p, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseStoredTime parses a timestamp stored by this repository.
// The format is controlled (RFC3339 or SQLite's strftime default),
// so a parse failure yields the zero time rather than an error.
func parseStoredTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", value); err == nil {
		return t
	}
	return time.Time{}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}

// isForeignKeyError checks if an error is a SQLite foreign key violation.
func isForeignKeyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
