package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "proofs.db"))
	if err != nil {
		t.Fatalf("OpenArchive failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchive_SaveLoad(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	proofJSON := []byte(`{"session": {}, "substrings": {"openings": []}}`)
	if err := a.Save(ctx, "session-1", "api.example.com", proofJSON); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := a.Load(ctx, "session-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(got) != string(proofJSON) {
		t.Errorf("Expected %s, got %s", proofJSON, got)
	}

	if err := a.Save(ctx, "session-1", "api.example.com", proofJSON); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
	if _, err := a.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := a.Save(ctx, "", "api.example.com", proofJSON); err == nil {
		t.Error("Expected error for empty session id")
	}
}

func TestArchive_List(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	entries, err := a.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("Expected empty archive, got %d entries", len(entries))
	}

	for _, id := range []string{"a", "b", "c"} {
		if err := a.Save(ctx, id, "api.example.com", []byte(`{"id":"`+id+`"}`)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	entries, err = a.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	for i, id := range []string{"a", "b", "c"} {
		if entries[i].SessionID != id {
			t.Errorf("Entry %d: expected %s, got %s", i, id, entries[i].SessionID)
		}
		if entries[i].Size != len(`{"id":"a"}`) {
			t.Errorf("Entry %d: unexpected size %d", i, entries[i].Size)
		}
		if entries[i].CreatedAt.IsZero() {
			t.Errorf("Entry %d: missing creation time", i)
		}
	}
}

func TestArchive_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proofs.db")
	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive failed: %v", err)
	}
	if err := a.Save(context.Background(), "persisted", "api.example.com", []byte("{}")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	a.Close()

	a, err = OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive failed: %v", err)
	}
	defer a.Close()
	if _, err := a.Load(context.Background(), "persisted"); err != nil {
		t.Errorf("Expected proof to survive reopen, got %v", err)
	}
}
