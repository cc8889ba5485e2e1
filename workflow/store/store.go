// Package store provides durable checkpoint persistence for negotiation runs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run ID has no checkpoint.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by Save when the caller's expected version does not
// match the stored version, or when creating a record that already exists.
// The caller lost a race for the run and must reload before writing again.
var ErrConflict = errors.New("checkpoint version conflict")

// ErrClosed is returned by any operation on a closed store.
var ErrClosed = errors.New("store is closed")

// Store persists one checkpoint per run ID.
//
// A checkpoint records the run's serialized state together with its stage
// cursor. The store is the only shared mutable resource of the workflow
// engine, so it must provide per-run atomicity: Save is a conditional write
// keyed on the version the writer last observed. Exactly one of several
// concurrent writers holding the same version succeeds; the rest receive
// ErrConflict.
//
// Implementations:
//   - MemStore: in-process, for tests and development
//   - SQLiteStore: single-file database, durable across restarts
//   - MySQLStore: shared database for multi-process deployments
//
// Type parameter S is the run state type (must be JSON-serializable).
type Store[S any] interface {
	// Save writes cp if the stored version equals cp.Version.
	//
	// cp.Version == 0 creates a new record and fails with ErrConflict if the
	// run ID already exists. Any other value updates the existing record and
	// fails with ErrConflict when the stored version differs. The returned
	// checkpoint carries the new version (cp.Version + 1) and timestamps.
	Save(ctx context.Context, cp Checkpoint[S]) (Checkpoint[S], error)

	// Load returns the checkpoint for runID, or ErrNotFound.
	Load(ctx context.Context, runID string) (Checkpoint[S], error)

	// Delete removes the checkpoint for runID. Deleting a missing run is not
	// an error.
	Delete(ctx context.Context, runID string) error

	// List returns checkpoints matching opts, oldest update first.
	List(ctx context.Context, opts ListOptions) ([]Checkpoint[S], error)
}

// Checkpoint is the durable record of one run.
type Checkpoint[S any] struct {
	// RunID is the resume key.
	RunID string `json:"run_id"`

	// Cursor names the next stage to execute, or a terminal marker.
	Cursor string `json:"cursor"`

	// State is the serialized run at the moment of the save.
	State S `json:"state"`

	// Version increases by one on every successful Save.
	Version int64 `json:"version"`

	// ClaimToken identifies the resume call that currently holds the run
	// for dispatch. Empty when unclaimed.
	ClaimToken string `json:"claim_token,omitempty"`

	// ClaimedAt is when ClaimToken was taken. Used to detect abandoned claims.
	ClaimedAt time.Time `json:"claimed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListOptions filters List results. Zero values disable a filter.
type ListOptions struct {
	// Cursor restricts results to checkpoints at this cursor.
	Cursor string

	// UpdatedBefore restricts results to checkpoints last saved before this time.
	UpdatedBefore time.Time

	// Limit caps the number of results. 0 means no limit.
	Limit int
}

func (o ListOptions) matches(cursor string, updatedAt time.Time) bool {
	if o.Cursor != "" && cursor != o.Cursor {
		return false
	}
	if !o.UpdatedBefore.IsZero() && !updatedAt.Before(o.UpdatedBefore) {
		return false
	}
	return true
}
