package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// dialect captures the statements that differ between SQL backends.
type dialect struct {
	name string

	// schema is executed statement by statement on open.
	schema []string

	// insert creates a record. It must fail, or affect zero rows, when the
	// run ID already exists.
	insert string

	// isDuplicate reports whether err is a primary-key violation.
	isDuplicate func(error) bool
}

// sqlCore implements Store[S] over database/sql for any dialect.
//
// Timestamps are stored as Unix nanoseconds so the same statements work
// unchanged on every backend.
type sqlCore[S any] struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
	closed  bool
	now     func() time.Time
}

const selectColumns = `run_id, stage_cursor, state, version, claim_token, claimed_at_ns, created_at_ns, updated_at_ns`

func (s *sqlCore[S]) createTables(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *sqlCore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Save implements Store.
func (s *sqlCore[S]) Save(ctx context.Context, cp Checkpoint[S]) (Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}
	if cp.RunID == "" {
		return Checkpoint[S]{}, fmt.Errorf("run ID is required")
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to marshal state: %w", err)
	}

	now := s.now().UTC()
	saved := cp
	saved.Version = cp.Version + 1
	saved.UpdatedAt = now

	if cp.Version == 0 {
		saved.CreatedAt = now
		res, err := s.db.ExecContext(ctx, s.dialect.insert,
			cp.RunID, cp.Cursor, string(stateJSON), saved.Version,
			cp.ClaimToken, unixNano(cp.ClaimedAt), unixNano(now), unixNano(now),
		)
		if err != nil {
			if s.dialect.isDuplicate != nil && s.dialect.isDuplicate(err) {
				return Checkpoint[S]{}, ErrConflict
			}
			return Checkpoint[S]{}, fmt.Errorf("failed to insert checkpoint: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return Checkpoint[S]{}, ErrConflict
		}
		return saved, nil
	}

	query := `
		UPDATE negotiation_checkpoints
		SET stage_cursor = ?, state = ?, version = ?, claim_token = ?, claimed_at_ns = ?, updated_at_ns = ?
		WHERE run_id = ? AND version = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		cp.Cursor, string(stateJSON), saved.Version, cp.ClaimToken, unixNano(cp.ClaimedAt), unixNano(now),
		cp.RunID, cp.Version,
	)
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to update checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 1 {
		return Checkpoint[S]{}, ErrConflict
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = now
	}
	return saved, nil
}

// Load implements Store.
func (s *sqlCore[S]) Load(ctx context.Context, runID string) (Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	query := `SELECT ` + selectColumns + ` FROM negotiation_checkpoints WHERE run_id = ?`
	cp, err := scanCheckpoint[S](s.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// Delete implements Store.
func (s *sqlCore[S]) Delete(ctx context.Context, runID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM negotiation_checkpoints WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List implements Store.
func (s *sqlCore[S]) List(ctx context.Context, opts ListOptions) ([]Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []interface{}
	)
	if opts.Cursor != "" {
		where = append(where, "stage_cursor = ?")
		args = append(args, opts.Cursor)
	}
	if !opts.UpdatedBefore.IsZero() {
		where = append(where, "updated_at_ns < ?")
		args = append(args, unixNano(opts.UpdatedBefore))
	}

	query := `SELECT ` + selectColumns + ` FROM negotiation_checkpoints`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at_ns ASC, run_id ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Checkpoint[S]
	for rows.Next() {
		cp, err := scanCheckpoint[S](rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		result = append(result, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	return result, nil
}

// Ping verifies the database connection is alive.
func (s *sqlCore[S]) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database connection. Calling Close more than once is a no-op.
func (s *sqlCore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint[S any](row rowScanner) (Checkpoint[S], error) {
	var (
		cp                              Checkpoint[S]
		stateJSON                       string
		claimedAt, createdAt, updatedAt int64
	)
	if err := row.Scan(&cp.RunID, &cp.Cursor, &stateJSON, &cp.Version, &cp.ClaimToken, &claimedAt, &createdAt, &updatedAt); err != nil {
		return Checkpoint[S]{}, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	cp.ClaimedAt = fromUnixNano(claimedAt)
	cp.CreatedAt = fromUnixNano(createdAt)
	cp.UpdatedAt = fromUnixNano(updatedAt)
	return cp, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
