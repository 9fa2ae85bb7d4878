package opstore

import (
	"path/filepath"
	"testing"
	"time"
)

func TestTreeDirSplitsID(t *testing.T) {
	got := TreeDir("/tmp/space", "ab12cd")
	want := filepath.Join("/tmp/space", "ops", "ab", "12cd")
	if got != want {
		t.Fatalf("TreeDir = %s, want %s", got, want)
	}
}

func TestPeerFile(t *testing.T) {
	got := PeerFile("/s", "ab12", "2026-08-05", "peer-1")
	want := filepath.Join("/s", "ops", "ab", "12", "2026-08-05", "peer-1.jsonl")
	if got != want {
		t.Fatalf("PeerFile = %s, want %s", got, want)
	}
}

func TestParseOpsPathRoundTrip(t *testing.T) {
	space := "/some/space"
	path := PeerFile(space, "ab12cd", "2026-08-05", "peer-xyz")

	treeID, peer, ok := ParseOpsPath(space, path)
	if !ok {
		t.Fatal("ParseOpsPath rejected its own layout")
	}
	if treeID != "ab12cd" || peer != "peer-xyz" {
		t.Fatalf("got (%s, %s)", treeID, peer)
	}
}

func TestParseOpsPathRejects(t *testing.T) {
	space := "/some/space"
	bad := []string{
		filepath.Join(space, "space.json"),
		filepath.Join(space, "ops", "ab", "cd", "not-a-date", "p.jsonl"),
		filepath.Join(space, "ops", "ab", "cd", "2026-08-05", "p.txt"),
		filepath.Join(space, "ops", "ab", "cd", "2026-08-05", ".jsonl"),
		filepath.Join(space, "ops", "ab", "2026-08-05", "p.jsonl"),
		filepath.Join("/other", "ops", "ab", "cd", "2026-08-05", "p.jsonl"),
	}
	for _, path := range bad {
		if _, _, ok := ParseOpsPath(space, path); ok {
			t.Fatalf("ParseOpsPath accepted %s", path)
		}
	}
}

func TestDayFormat(t *testing.T) {
	ts := time.Date(2026, 8, 5, 23, 59, 0, 0, time.UTC)
	if got := Day(ts); got != "2026-08-05" {
		t.Fatalf("Day = %s", got)
	}
}
