package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// Designed for deployments where several engine processes share runs: the
// conditional update on the version column gives per-run atomicity across
// processes, not just goroutines.
type MySQLStore[S any] struct {
	sqlCore[S]
}

// NewMySQLStore creates a MySQL-backed store.
//
// The DSN format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example:
//
//	st, err := store.NewMySQLStore[workflow.Run](os.Getenv("MYSQL_DSN"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
//
// NEVER hardcode credentials; read the DSN from configuration or the environment.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	st := &MySQLStore[S]{
		sqlCore: sqlCore[S]{
			db:      db,
			dialect: mysqlDialect,
			now:     time.Now,
		},
	}

	if err := st.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return st, nil
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS negotiation_checkpoints (
			run_id VARCHAR(255) NOT NULL PRIMARY KEY,
			stage_cursor VARCHAR(32) NOT NULL,
			state JSON NOT NULL,
			version BIGINT NOT NULL,
			claim_token VARCHAR(64) NOT NULL DEFAULT '',
			claimed_at_ns BIGINT NOT NULL DEFAULT 0,
			created_at_ns BIGINT NOT NULL,
			updated_at_ns BIGINT NOT NULL,
			INDEX idx_checkpoints_cursor_updated (stage_cursor, updated_at_ns)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	insert: `
		INSERT INTO negotiation_checkpoints
		(run_id, stage_cursor, state, version, claim_token, claimed_at_ns, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
	isDuplicate: isMySQLDuplicate,
}

func isMySQLDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}
