package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It keeps every checkpoint in a single-file database so a run paused at the
// review gate survives process restarts. Designed for single-host
// deployments and development.
//
// Features:
//   - Single file database (e.g., "./negotiator.db")
//   - Auto-migration on first use
//   - WAL mode for concurrent reads
//   - Conditional updates on the version column for per-run atomicity
//
// Schema:
//   - negotiation_checkpoints: one row per run, keyed by run_id
type SQLiteStore[S any] struct {
	sqlCore[S]
	path string
}

// NewSQLiteStore opens (and creates if needed) a SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./negotiator.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// Example:
//
//	st, err := store.NewSQLiteStore[workflow.Run]("./negotiator.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time; a single connection also keeps
	// ":memory:" databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	st := &SQLiteStore[S]{
		sqlCore: sqlCore[S]{
			db:      db,
			dialect: sqliteDialect,
			now:     time.Now,
		},
		path: path,
	}

	if err := st.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return st, nil
}

// Path returns the database file path.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS negotiation_checkpoints (
			run_id TEXT NOT NULL PRIMARY KEY,
			stage_cursor TEXT NOT NULL,
			state TEXT NOT NULL,
			version INTEGER NOT NULL,
			claim_token TEXT NOT NULL DEFAULT '',
			claimed_at_ns INTEGER NOT NULL DEFAULT 0,
			created_at_ns INTEGER NOT NULL,
			updated_at_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_cursor_updated ON negotiation_checkpoints(stage_cursor, updated_at_ns)`,
	},
	// DO NOTHING turns a duplicate create into zero affected rows.
	insert: `
		INSERT INTO negotiation_checkpoints
		(run_id, stage_cursor, state, version, claim_token, claimed_at_ns, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
}
