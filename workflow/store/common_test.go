package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"
)

// TestState is the state type used by every store test.
type TestState struct {
	Value   string            `json:"value"`
	Counter int               `json:"counter"`
	Price   float64           `json:"price"`
	Tags    map[string]string `json:"tags,omitempty"`
	Nested  *NestedState      `json:"nested,omitempty"`
}

type NestedState struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

type storeFactory func(t *testing.T) Store[TestState]

// runStoreContract exercises the behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("load missing run returns ErrNotFound", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Load(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("save then load round trip", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		state := TestState{
			Value:   "offer",
			Counter: 3,
			Price:   80.5,
			Tags:    map[string]string{"vendor": "acme"},
			Nested:  &NestedState{Low: 90, High: 110},
		}
		saved, err := st.Save(ctx, Checkpoint[TestState]{RunID: "run-1", Cursor: "review", State: state})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if saved.Version != 1 {
			t.Errorf("expected version 1, got %d", saved.Version)
		}

		loaded, err := st.Load(ctx, "run-1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.Cursor != "review" {
			t.Errorf("expected cursor review, got %q", loaded.Cursor)
		}
		if !reflect.DeepEqual(loaded.State, state) {
			t.Errorf("state mismatch:\n got %+v\nwant %+v", loaded.State, state)
		}
		if loaded.Version != saved.Version {
			t.Errorf("expected version %d, got %d", saved.Version, loaded.Version)
		}
		if loaded.CreatedAt.IsZero() || loaded.UpdatedAt.IsZero() {
			t.Error("expected timestamps to be set")
		}
	})

	t.Run("create of existing run conflicts", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		if _, err := st.Save(ctx, Checkpoint[TestState]{RunID: "run-1", Cursor: "analyze"}); err != nil {
			t.Fatalf("first Save failed: %v", err)
		}
		_, err := st.Save(ctx, Checkpoint[TestState]{RunID: "run-1", Cursor: "analyze"})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("stale version conflicts and leaves record untouched", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		v1, err := st.Save(ctx, Checkpoint[TestState]{RunID: "run-1", Cursor: "analyze", State: TestState{Counter: 1}})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		next := v1
		next.Cursor = "strategize"
		next.State.Counter = 2
		v2, err := st.Save(ctx, next)
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if v2.Version != 2 {
			t.Errorf("expected version 2, got %d", v2.Version)
		}

		stale := v1
		stale.Cursor = "draft"
		if _, err := st.Save(ctx, stale); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict for stale write, got %v", err)
		}

		loaded, err := st.Load(ctx, "run-1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.Cursor != "strategize" || loaded.State.Counter != 2 {
			t.Errorf("stale write leaked: %+v", loaded)
		}
	})

	t.Run("update of missing run conflicts", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Save(context.Background(), Checkpoint[TestState]{RunID: "ghost", Cursor: "review", Version: 4})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("claim fields persist", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		cp, err := st.Save(ctx, Checkpoint[TestState]{RunID: "run-1", Cursor: "review"})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		claimedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		cp.Cursor = "dispatch"
		cp.ClaimToken = "claim-abc"
		cp.ClaimedAt = claimedAt
		if _, err := st.Save(ctx, cp); err != nil {
			t.Fatalf("claim save failed: %v", err)
		}

		loaded, err := st.Load(ctx, "run-1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.ClaimToken != "claim-abc" {
			t.Errorf("expected claim token, got %q", loaded.ClaimToken)
		}
		if !loaded.ClaimedAt.Equal(claimedAt) {
			t.Errorf("expected claimed at %v, got %v", claimedAt, loaded.ClaimedAt)
		}
	})

	t.Run("concurrent writers with same version: exactly one wins", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		base, err := st.Save(ctx, Checkpoint[TestState]{RunID: "run-1", Cursor: "review"})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				next := base
				next.Cursor = "dispatch"
				next.ClaimToken = fmt.Sprintf("claim-%d", n)
				_, err := st.Save(ctx, next)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		if wins != 1 {
			t.Errorf("expected exactly one winner, got %d", wins)
		}
		if conflicts != writers-1 {
			t.Errorf("expected %d conflicts, got %d", writers-1, conflicts)
		}
	})

	t.Run("delete removes record and is idempotent", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		if _, err := st.Save(ctx, Checkpoint[TestState]{RunID: "run-1", Cursor: "complete"}); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if err := st.Delete(ctx, "run-1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := st.Load(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
		if err := st.Delete(ctx, "run-1"); err != nil {
			t.Fatalf("second Delete failed: %v", err)
		}
	})

	t.Run("list filters by cursor and age", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		for i, cursor := range []string{"review", "review", "complete", "failed"} {
			runID := fmt.Sprintf("run-%d", i)
			if _, err := st.Save(ctx, Checkpoint[TestState]{RunID: runID, Cursor: cursor}); err != nil {
				t.Fatalf("Save %s failed: %v", runID, err)
			}
		}

		atGate, err := st.List(ctx, ListOptions{Cursor: "review"})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(atGate) != 2 {
			t.Fatalf("expected 2 runs at review, got %d", len(atGate))
		}
		for _, cp := range atGate {
			if cp.Cursor != "review" {
				t.Errorf("unexpected cursor %q", cp.Cursor)
			}
		}

		limited, err := st.List(ctx, ListOptions{Limit: 3})
		if err != nil {
			t.Fatalf("List with limit failed: %v", err)
		}
		if len(limited) != 3 {
			t.Errorf("expected 3 results with limit, got %d", len(limited))
		}

		old, err := st.List(ctx, ListOptions{UpdatedBefore: time.Now().Add(-time.Hour)})
		if err != nil {
			t.Fatalf("List by age failed: %v", err)
		}
		if len(old) != 0 {
			t.Errorf("expected no runs older than an hour, got %d", len(old))
		}

		all, err := st.List(ctx, ListOptions{UpdatedBefore: time.Now().Add(time.Hour)})
		if err != nil {
			t.Fatalf("List by age failed: %v", err)
		}
		if len(all) != 4 {
			t.Errorf("expected 4 runs, got %d", len(all))
		}
	})
}

func getTestDSN(t *testing.T) string {
	t.Helper()
	return os.Getenv("TEST_MYSQL_DSN")
}
