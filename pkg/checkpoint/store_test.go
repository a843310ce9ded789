package checkpoint

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "checkpoint.json"), zerolog.Nop())
}

func TestStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	saved := &Checkpoint{
		LastProcessedID: "2",
		ProcessedIDs:    []string{"1", "2"},
		TotalProcessed:  2,
		TotalPosts:      3,
		FlaggedCount:    1,
		ErrorCount:      0,
	}

	if err := store.Save(saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded == nil {
		t.Fatal("Load() = nil, want checkpoint")
	}

	if loaded.LastProcessedID != saved.LastProcessedID {
		t.Errorf("LastProcessedID = %q, want %q", loaded.LastProcessedID, saved.LastProcessedID)
	}
	if loaded.TotalProcessed != saved.TotalProcessed {
		t.Errorf("TotalProcessed = %d, want %d", loaded.TotalProcessed, saved.TotalProcessed)
	}
	if loaded.FlaggedCount != saved.FlaggedCount {
		t.Errorf("FlaggedCount = %d, want %d", loaded.FlaggedCount, saved.FlaggedCount)
	}
	if loaded.ErrorCount != saved.ErrorCount {
		t.Errorf("ErrorCount = %d, want %d", loaded.ErrorCount, saved.ErrorCount)
	}
	if loaded.Timestamp.IsZero() {
		t.Error("Timestamp should be set by Save()")
	}

	ids := append([]string(nil), loaded.ProcessedIDs...)
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "1" || ids[1] != "2" {
		t.Errorf("ProcessedIDs = %v, want [1 2]", loaded.ProcessedIDs)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	cp, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cp != nil {
		t.Errorf("Load() = %+v, want nil for missing checkpoint", cp)
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	if err := os.WriteFile(path, []byte("{{{"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	store := NewStore(path, zerolog.Nop())

	cp, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v, corrupt checkpoint must not be fatal", err)
	}
	if cp != nil {
		t.Errorf("Load() = %+v, want nil for corrupt checkpoint", cp)
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save(&Checkpoint{ProcessedIDs: []string{"1"}, TotalProcessed: 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(&Checkpoint{ProcessedIDs: []string{"1", "2"}, TotalProcessed: 2}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.TotalProcessed != 2 {
		t.Errorf("TotalProcessed = %d, want 2 (full-state overwrite)", loaded.TotalProcessed)
	}
}

func TestStore_ExistsAndDelete(t *testing.T) {
	store := newTestStore(t)

	if store.Exists() {
		t.Error("Exists() = true before any save")
	}

	if err := store.Save(&Checkpoint{ProcessedIDs: []string{"1"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !store.Exists() {
		t.Error("Exists() = false after save")
	}

	if err := store.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if store.Exists() {
		t.Error("Exists() = true after delete")
	}

	// Deleting an absent record is not an error
	if err := store.Delete(); err != nil {
		t.Errorf("Delete() on absent record = %v, want nil", err)
	}
}

func TestCheckpoint_ProcessedSet(t *testing.T) {
	cp := &Checkpoint{ProcessedIDs: []string{"1", "2", "2"}}

	set := cp.ProcessedSet()
	if len(set) != 2 {
		t.Errorf("ProcessedSet() size = %d, want 2", len(set))
	}
	if _, ok := set["1"]; !ok {
		t.Error("ProcessedSet() missing id 1")
	}
	if _, ok := set["2"]; !ok {
		t.Error("ProcessedSet() missing id 2")
	}
}
