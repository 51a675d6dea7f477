package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchRoot_ReportsRemoval(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	rw, err := WatchRoot(root, nil)
	if err != nil {
		t.Fatalf("WatchRoot failed: %v", err)
	}
	defer rw.Close()

	// Entry churn must not be reported as removal
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.Remove(filepath.Join(root, "a.txt")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	select {
	case <-rw.Gone():
		t.Fatal("Gone closed after removing an entry")
	case <-time.After(100 * time.Millisecond):
	}

	if err := os.RemoveAll(root); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}

	select {
	case <-rw.Gone():
	case <-time.After(2 * time.Second):
		t.Fatal("Gone not closed after removing the root")
	}
}

func TestWatchRoot_MissingDir(t *testing.T) {
	if _, err := WatchRoot(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("expected error watching a missing directory")
	}
}
