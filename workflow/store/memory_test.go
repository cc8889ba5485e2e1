package store

import (
	"context"
	"testing"
)

func TestMemStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store[TestState] {
		return NewMemStore[TestState]()
	})
}

func TestMemStore_LoadedStateIsIsolated(t *testing.T) {
	st := NewMemStore[TestState]()
	ctx := context.Background()

	state := TestState{Tags: map[string]string{"k": "v"}}
	if _, err := st.Save(ctx, Checkpoint[TestState]{RunID: "run-1", Cursor: "review", State: state}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Mutating the caller's value after Save must not change the stored copy.
	state.Tags["k"] = "mutated"

	first, _ := st.Load(ctx, "run-1")
	first.State.Tags["k"] = "also mutated"

	second, err := st.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if second.State.Tags["k"] != "v" {
		t.Errorf("stored state was aliased, got %q", second.State.Tags["k"])
	}
}

func TestMemStore_SnapshotRestore(t *testing.T) {
	st := NewMemStore[TestState]()
	ctx := context.Background()

	saved, err := st.Save(ctx, Checkpoint[TestState]{RunID: "run-1", Cursor: "review", State: TestState{Value: "draft"}})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := st.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}

	restored := NewMemStore[TestState]()
	if err := restored.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}

	loaded, err := restored.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load after restore failed: %v", err)
	}
	if loaded.State.Value != "draft" || loaded.Version != saved.Version {
		t.Errorf("restored checkpoint mismatch: %+v", loaded)
	}

	// The restored store keeps enforcing versions.
	loaded.Cursor = "dispatch"
	if _, err := restored.Save(ctx, loaded); err != nil {
		t.Fatalf("Save on restored store failed: %v", err)
	}
}
