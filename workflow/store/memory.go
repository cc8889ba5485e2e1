package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store[S].
//
// States are held as JSON so that a loaded checkpoint never aliases the
// caller's value and a save/load round trip behaves like the durable stores.
//
// MemStore is thread-safe. Data is lost when the process exits unless the
// caller persists a snapshot via MarshalJSON.
type MemStore[S any] struct {
	mu      sync.RWMutex
	records map[string]memRecord
	now     func() time.Time
}

type memRecord struct {
	RunID      string          `json:"run_id"`
	Cursor     string          `json:"cursor"`
	State      json.RawMessage `json:"state"`
	Version    int64           `json:"version"`
	ClaimToken string          `json:"claim_token,omitempty"`
	ClaimedAt  time.Time       `json:"claimed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewMemStore creates an empty in-memory store.
//
// Example:
//
//	st := store.NewMemStore[workflow.Run]()
//	engine, err := workflow.New(caps, st)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		records: make(map[string]memRecord),
		now:     time.Now,
	}
}

// Save implements Store.
func (m *MemStore[S]) Save(_ context.Context, cp Checkpoint[S]) (Checkpoint[S], error) {
	if cp.RunID == "" {
		return Checkpoint[S]{}, fmt.Errorf("run ID is required")
	}

	data, err := json.Marshal(cp.State)
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to marshal state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	existing, exists := m.records[cp.RunID]

	switch {
	case cp.Version == 0 && exists:
		return Checkpoint[S]{}, ErrConflict
	case cp.Version != 0 && !exists:
		return Checkpoint[S]{}, ErrConflict
	case exists && existing.Version != cp.Version:
		return Checkpoint[S]{}, ErrConflict
	}

	rec := memRecord{
		RunID:      cp.RunID,
		Cursor:     cp.Cursor,
		State:      data,
		Version:    cp.Version + 1,
		ClaimToken: cp.ClaimToken,
		ClaimedAt:  cp.ClaimedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if exists {
		rec.CreatedAt = existing.CreatedAt
	}
	m.records[cp.RunID] = rec

	return decodeRecord[S](rec)
}

// Load implements Store.
func (m *MemStore[S]) Load(_ context.Context, runID string) (Checkpoint[S], error) {
	m.mu.RLock()
	rec, exists := m.records[runID]
	m.mu.RUnlock()

	if !exists {
		return Checkpoint[S]{}, ErrNotFound
	}
	return decodeRecord[S](rec)
}

// Delete implements Store.
func (m *MemStore[S]) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, runID)
	return nil
}

// List implements Store.
func (m *MemStore[S]) List(_ context.Context, opts ListOptions) ([]Checkpoint[S], error) {
	m.mu.RLock()
	matched := make([]memRecord, 0)
	for _, rec := range m.records {
		if opts.matches(rec.Cursor, rec.UpdatedAt) {
			matched = append(matched, rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].RunID < matched[j].RunID
		}
		return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
	})
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	result := make([]Checkpoint[S], 0, len(matched))
	for _, rec := range matched {
		cp, err := decodeRecord[S](rec)
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, nil
}

// MarshalJSON serializes every record, for example to persist a development
// store to disk between restarts.
func (m *MemStore[S]) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return json.Marshal(m.records)
}

// UnmarshalJSON replaces the store contents with a snapshot produced by
// MarshalJSON.
func (m *MemStore[S]) UnmarshalJSON(data []byte) error {
	records := make(map[string]memRecord)
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = records
	if m.now == nil {
		m.now = time.Now
	}
	return nil
}

func decodeRecord[S any](rec memRecord) (Checkpoint[S], error) {
	cp := Checkpoint[S]{
		RunID:      rec.RunID,
		Cursor:     rec.Cursor,
		Version:    rec.Version,
		ClaimToken: rec.ClaimToken,
		ClaimedAt:  rec.ClaimedAt,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if err := json.Unmarshal(rec.State, &cp.State); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return cp, nil
}
