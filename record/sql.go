package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/negotiatorai/negotiator/workflow"
)

type dialect struct {
	name         string
	schema       []string
	upsertThread string
}

// SQLRecorder writes negotiation_threads and email_logs rows to SQLite or
// MySQL. Timestamps are stored as Unix nanoseconds.
type SQLRecorder struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLiteRecorder opens (and creates if needed) a SQLite history database.
func NewSQLiteRecorder(path string) (*SQLRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return newSQLRecorder(db, sqliteDialect)
}

// NewMySQLRecorder connects to a MySQL history database.
func NewMySQLRecorder(dsn string) (*SQLRecorder, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}
	return newSQLRecorder(db, mysqlDialect)
}

func newSQLRecorder(db *sql.DB, d dialect) (*SQLRecorder, error) {
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s schema: %w", d.name, err)
		}
	}
	return &SQLRecorder{db: db, dialect: d}, nil
}

// OnStatusChanged implements workflow.Recorder. The thread upsert and the
// email insert share a transaction.
func (r *SQLRecorder) OnStatusChanged(ctx context.Context, c workflow.StatusChange) error {
	t := threadFrom(c)
	at := c.At.UnixNano()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, r.dialect.upsertThread,
		t.ThreadID, t.VendorName, t.ProductName, t.CurrentOffer, t.TargetPrice, t.Status,
		t.LastEmailSubject, t.LastEmailBody, at, at,
	); err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}

	if email, ok := emailFor(c); ok {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email_logs (thread_id, direction, subject, body, created_at_ns) VALUES (?, ?, ?, ?, ?)`,
			email.ThreadID, string(email.Direction), email.Subject, email.Body, at,
		); err != nil {
			return fmt.Errorf("insert email log: %w", err)
		}
	}
	return tx.Commit()
}

// ErrThreadNotFound is returned by Thread for an unknown run.
var ErrThreadNotFound = errors.New("thread not found")

// Thread loads the thread row for runID.
func (r *SQLRecorder) Thread(ctx context.Context, runID string) (Thread, error) {
	var (
		t                Thread
		created, updated int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT thread_id, vendor_name, product_name, current_offer, target_price, status,
		       last_email_subject, last_email_body, created_at_ns, updated_at_ns
		FROM negotiation_threads WHERE thread_id = ?`, runID,
	).Scan(&t.ThreadID, &t.VendorName, &t.ProductName, &t.CurrentOffer, &t.TargetPrice, &t.Status,
		&t.LastEmailSubject, &t.LastEmailBody, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, ErrThreadNotFound
	}
	if err != nil {
		return Thread{}, fmt.Errorf("load thread: %w", err)
	}
	t.CreatedAt = time.Unix(0, created).UTC()
	t.UpdatedAt = time.Unix(0, updated).UTC()
	return t, nil
}

// Emails lists the emails logged for runID, oldest first.
func (r *SQLRecorder) Emails(ctx context.Context, runID string) ([]EmailLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT thread_id, direction, subject, body, created_at_ns
		FROM email_logs WHERE thread_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EmailLog
	for rows.Next() {
		var (
			e       EmailLog
			dir     string
			created int64
		)
		if err := rows.Scan(&e.ThreadID, &dir, &e.Subject, &e.Body, &created); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		e.Direction = Direction(dir)
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *SQLRecorder) Close() error {
	return r.db.Close()
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS negotiation_threads (
			thread_id TEXT NOT NULL PRIMARY KEY,
			vendor_name TEXT NOT NULL DEFAULT '',
			product_name TEXT NOT NULL DEFAULT '',
			current_offer REAL NOT NULL DEFAULT 0,
			target_price REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			last_email_subject TEXT NOT NULL DEFAULT '',
			last_email_body TEXT NOT NULL DEFAULT '',
			created_at_ns INTEGER NOT NULL,
			updated_at_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_vendor ON negotiation_threads(vendor_name)`,
		`CREATE TABLE IF NOT EXISTS email_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_email_logs_thread ON email_logs(thread_id)`,
	},
	upsertThread: `
		INSERT INTO negotiation_threads
		(thread_id, vendor_name, product_name, current_offer, target_price, status,
		 last_email_subject, last_email_body, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			vendor_name = excluded.vendor_name,
			product_name = excluded.product_name,
			current_offer = excluded.current_offer,
			target_price = excluded.target_price,
			status = excluded.status,
			last_email_subject = excluded.last_email_subject,
			last_email_body = excluded.last_email_body,
			updated_at_ns = excluded.updated_at_ns
	`,
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS negotiation_threads (
			thread_id VARCHAR(255) NOT NULL PRIMARY KEY,
			vendor_name VARCHAR(255) NOT NULL DEFAULT '',
			product_name VARCHAR(255) NOT NULL DEFAULT '',
			current_offer DOUBLE NOT NULL DEFAULT 0,
			target_price DOUBLE NOT NULL DEFAULT 0,
			status VARCHAR(32) NOT NULL,
			last_email_subject TEXT NOT NULL,
			last_email_body MEDIUMTEXT NOT NULL,
			created_at_ns BIGINT NOT NULL,
			updated_at_ns BIGINT NOT NULL,
			INDEX idx_threads_vendor (vendor_name)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS email_logs (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			direction VARCHAR(16) NOT NULL,
			subject TEXT NOT NULL,
			body MEDIUMTEXT NOT NULL,
			created_at_ns BIGINT NOT NULL,
			INDEX idx_email_logs_thread (thread_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	upsertThread: `
		INSERT INTO negotiation_threads
		(thread_id, vendor_name, product_name, current_offer, target_price, status,
		 last_email_subject, last_email_body, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			vendor_name = VALUES(vendor_name),
			product_name = VALUES(product_name),
			current_offer = VALUES(current_offer),
			target_price = VALUES(target_price),
			status = VALUES(status),
			last_email_subject = VALUES(last_email_subject),
			last_email_body = VALUES(last_email_body),
			updated_at_ns = VALUES(updated_at_ns)
	`,
}
