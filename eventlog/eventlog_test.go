package eventlog

import (
	"path/filepath"
	"testing"
)

func TestRecordAndRecent(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "events.bolt"), 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	for i := 0; i < 3; i++ {
		if err := l.Record("watcher", "info", "tick", nil); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	events, err := l.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Seq <= events[1].Seq {
		t.Fatalf("expected newest first, got seqs %d then %d", events[0].Seq, events[1].Seq)
	}
}

func TestRecordEvictsBeyondMaxKept(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "events.bolt"), 3)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	for i := 0; i < 10; i++ {
		if err := l.Record("sync", "warn", "retry", map[string]any{"n": i}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	events, err := l.Recent(100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected eviction to cap at 3, got %d", len(events))
	}
}
