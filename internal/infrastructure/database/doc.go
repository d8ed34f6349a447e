// Package database provides SQLite database connectivity for Fieldcore.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Forward-only schema migrations (embedded, versioned)
//   - Connection pooling and lifecycle management
//   - Foreign key enforcement (referential cascade is FK-driven)
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Performance Characteristics:
//   - WAL mode allows concurrent reads during writes; maintenance cycles
//     never block inserts into the active measurement chunk
//   - Busy timeout prevents lock contention errors
//   - Single-writer pool matches SQLite's write model
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Run migrations
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Schema evolution is forward-only to support zero-downtime upgrades:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Never DROP or RENAME columns
//   - Each migration file has both .up.sql and .down.sql; whether a given
//     change is reversible is a per-change policy decision
package database
