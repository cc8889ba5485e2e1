package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore[TestState] {
	t.Helper()
	st, err := NewSQLiteStore[TestState](":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store[TestState] {
		return newTestSQLiteStore(t)
	})
}

// TestSQLiteStore_DurableAcrossReopen verifies a checkpoint survives closing
// and reopening the database file, which is what lets a run sit at the
// review gate across process restarts.
func TestSQLiteStore_DurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "negotiator.db")
	ctx := context.Background()

	st, err := NewSQLiteStore[TestState](path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if st.Path() != path {
		t.Errorf("expected path %q, got %q", path, st.Path())
	}
	if _, err := st.Save(ctx, Checkpoint[TestState]{RunID: "run-1", Cursor: "review", State: TestState{Price: 80}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore[TestState](path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	cp, err := reopened.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load after reopen failed: %v", err)
	}
	if cp.Cursor != "review" || cp.State.Price != 80 || cp.Version != 1 {
		t.Errorf("unexpected checkpoint after reopen: %+v", cp)
	}
}

func TestSQLiteStore_Closed(t *testing.T) {
	st, err := NewSQLiteStore[TestState](":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("double Close should be a no-op, got %v", err)
	}

	ctx := context.Background()
	if _, err := st.Load(ctx, "run-1"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Load, got %v", err)
	}
	if _, err := st.Save(ctx, Checkpoint[TestState]{RunID: "run-1"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Save, got %v", err)
	}
}
