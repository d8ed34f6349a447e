package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// pingTimeout bounds the connectivity check during Open.
	pingTimeout = 5 * time.Second
)

// Config maps to the database section of config.yaml.
type Config struct {
	// Path to the SQLite database file. The parent directory is created
	// on first open.
	Path string

	// WALMode enables Write-Ahead Logging so reads proceed during
	// writes. Leave on outside of tests.
	WALMode bool

	// BusyTimeout is how long a statement waits on a lock, in seconds,
	// before failing with SQLITE_BUSY.
	BusyTimeout int
}

// DB wraps the sql connection pool with migration support and health
// checks. The embedded *sql.DB carries the usual query methods.
type DB struct {
	*sql.DB
	path string
}

// dsn builds the go-sqlite3 connection string. foreign_keys is always
// on: the schema leans on CASCADE deletes and reference checks.
func dsn(cfg Config) string {
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}

// Open opens (creating if needed) the database file and verifies the
// connection. The pool is capped at one connection: SQLite allows a
// single writer, and funneling everything through one connection keeps
// the packages' transactions from contending with their own readers.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	pool, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pool.SetMaxOpenConns(1)
	pool.SetMaxIdleConns(1)
	pool.SetConnMaxLifetime(time.Hour)
	pool.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// Restrict to owner read/write. On the very first open the file may
	// not exist until the first write; ignore that case.
	_ = os.Chmod(cfg.Path, filePermissions)

	return &DB{DB: pool, path: cfg.Path}, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to confirm the connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
