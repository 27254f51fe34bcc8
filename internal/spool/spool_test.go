package spool

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateAndRemove(t *testing.T) {
	root := t.TempDir()
	d, err := Create(root, "01TEST")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(filepath.Base(d.Path()), dirPrefix) {
		t.Fatalf("unexpected dir name %s", d.Path())
	}

	a, err := d.CreateTemp("stream-0-*.txt")
	if err != nil {
		t.Fatal(err)
	}
	b, err := d.CreateTemp("stream-1-*.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Files()) != 2 {
		t.Fatalf("Files() = %v", d.Files())
	}
	if !strings.HasPrefix(filepath.Base(a), "stream-0-") || !strings.HasSuffix(b, ".txt") {
		t.Fatalf("unexpected names %s %s", a, b)
	}

	if err := d.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := d.Remove(); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
	if _, err := os.Stat(d.Path()); !os.IsNotExist(err) {
		t.Fatalf("run dir still exists: %v", err)
	}
	if _, err := d.CreateTemp("late-*"); err == nil {
		t.Fatal("CreateTemp after Remove should fail")
	}
}

func TestRemoveToleratesMissingFiles(t *testing.T) {
	d, err := Create(t.TempDir(), "01MISSING")
	if err != nil {
		t.Fatal(err)
	}
	f, err := d.CreateTemp("x-*")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(f); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
}

func TestCreateRequiresRunID(t *testing.T) {
	if _, err := Create(t.TempDir(), " "); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestPruneStaleSkipsLiveRuns(t *testing.T) {
	root := t.TempDir()
	live, err := Create(root, "01LIVE")
	if err != nil {
		t.Fatal(err)
	}
	defer live.Remove()

	stale := filepath.Join(root, dirPrefix+"01STALE")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stale, "stream-0-1.txt"), []byte("left over"), 0o644); err != nil {
		t.Fatal(err)
	}
	unrelated := filepath.Join(root, "other")
	if err := os.MkdirAll(unrelated, 0o755); err != nil {
		t.Fatal(err)
	}

	removed, err := PruneStale(root)
	if err != nil {
		t.Fatalf("PruneStale() error = %v", err)
	}
	if len(removed) != 1 || removed[0] != stale {
		t.Fatalf("removed = %v, want [%s]", removed, stale)
	}
	if _, err := os.Stat(live.Path()); err != nil {
		t.Fatalf("live run dir was pruned: %v", err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatalf("unrelated dir was pruned: %v", err)
	}
}
