package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// MigrationsFS and MigrationsDir point at the embedded migration files.
// Package-level vars so tests can substitute their own fixture set.
var (
	MigrationsFS  embed.FS
	MigrationsDir = "migrations"
)

// Migration is a single schema change loaded from the embedded filesystem.
// Files are named VERSION_name.up.sql / VERSION_name.down.sql where VERSION
// is YYYYMMDD_HHMMSS, so lexicographic order is application order.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row from the schema_migrations bookkeeping table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies every pending migration in version order. Each migration
// runs in its own transaction together with its schema_migrations insert, so
// a failure leaves the database at the last fully applied version.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}

	for _, m := range migrations {
		if _, done := applied[m.Version]; done {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// MigrateDown rolls back the most recently applied migration. It is a no-op
// when nothing has been applied.
func (db *DB) MigrateDown(ctx context.Context) error {
	records, err := db.appliedRecords(ctx)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	latest := records[len(records)-1]

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	idx := sort.Search(len(migrations), func(i int) bool {
		return migrations[i].Version >= latest.Version
	})
	if idx == len(migrations) || migrations[idx].Version != latest.Version {
		return fmt.Errorf("migration %s applied but not present in filesystem", latest.Version)
	}
	target := migrations[idx]
	if target.DownSQL == "" {
		return fmt.Errorf("migration %s has no down script", target.Version)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, target.DownSQL); err != nil {
		return fmt.Errorf("rolling back migration %s: %w", target.Version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM schema_migrations WHERE version = ?", target.Version,
	); err != nil {
		return fmt.Errorf("removing migration record %s: %w", target.Version, err)
	}

	return tx.Commit()
}

// GetMigrationStatus returns the applied migrations in order alongside the
// migrations present on disk but not yet applied.
func (db *DB) GetMigrationStatus(ctx context.Context) ([]MigrationRecord, []Migration, error) {
	records, err := db.appliedRecords(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return nil, nil, fmt.Errorf("loading migrations: %w", err)
	}

	appliedSet := make(map[string]struct{}, len(records))
	for _, r := range records {
		appliedSet[r.Version] = struct{}{}
	}

	var pending []Migration
	for _, m := range migrations {
		if _, done := appliedSet[m.Version]; !done {
			pending = append(pending, m)
		}
	}

	return records, pending, nil
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// applyMigration runs a single up script and records it atomically.
func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	if m.UpSQL == "" {
		return fmt.Errorf("missing up script")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *DB) appliedRecords(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT version, applied_at FROM schema_migrations ORDER BY version",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // read-only query

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		var appliedAt string
		if err := rows.Scan(&rec.Version, &appliedAt); err != nil {
			return nil, err
		}
		if rec.AppliedAt, err = time.Parse(time.RFC3339, appliedAt); err != nil {
			return nil, fmt.Errorf("parsing applied_at for %s: %w", rec.Version, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]struct{}, error) {
	records, err := db.appliedRecords(ctx)
	if err != nil {
		return nil, err
	}
	versions := make(map[string]struct{}, len(records))
	for _, r := range records {
		versions[r.Version] = struct{}{}
	}
	return versions, nil
}

// loadMigrations reads every migration file from the embedded filesystem and
// pairs up/down scripts by version, returning them sorted by version.
func loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if err != nil {
		// An empty embed.FS has no directory at all. Treat it as no
		// migrations rather than failing startup.
		if strings.Contains(err.Error(), "file does not exist") {
			return nil, nil
		}
		return nil, err
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, isUp, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}

		content, err := fs.ReadFile(MigrationsFS, path.Join(MigrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		m, exists := byVersion[version]
		if !exists {
			m = &Migration{Version: version, Name: extractMigrationName(entry.Name())}
			byVersion[version] = m
		}
		if isUp {
			m.UpSQL = string(content)
		} else {
			m.DownSQL = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationFilename splits a migration filename into its version and
// direction. Expected shape: YYYYMMDD_HHMMSS_name.{up,down}.sql.
func parseMigrationFilename(filename string) (version string, isUp bool, ok bool) {
	var rest string
	switch {
	case strings.HasSuffix(filename, ".up.sql"):
		rest, isUp = strings.TrimSuffix(filename, ".up.sql"), true
	case strings.HasSuffix(filename, ".down.sql"):
		rest = strings.TrimSuffix(filename, ".down.sql")
	default:
		return "", false, false
	}

	// Version is the first two underscore-separated fields: date and time.
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) < 3 || len(parts[0]) != 8 || len(parts[1]) != 6 {
		return "", false, false
	}
	for _, field := range parts[:2] {
		for _, r := range field {
			if r < '0' || r > '9' {
				return "", false, false
			}
		}
	}

	return parts[0] + "_" + parts[1], isUp, true
}

// extractMigrationName returns the human-readable portion of a migration
// filename: "20260118_120000_create_sensors.up.sql" -> "create_sensors".
func extractMigrationName(filename string) string {
	for _, suffix := range []string{".up.sql", ".down.sql"} {
		filename = strings.TrimSuffix(filename, suffix)
	}
	parts := strings.SplitN(filename, "_", 3)
	if len(parts) < 3 {
		return filename
	}
	return parts[2]
}
