package syncengine

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/ditox-dev/ditox/blobstore"
	"github.com/ditox-dev/ditox/store"
)

func openLocal(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blobstore.Open(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("open blobstore: %v", err)
	}
	cfg := store.DefaultConfig(filepath.Join(dir, "ditox.db"))
	cfg.BlobStore = blobs
	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openRemote(t *testing.T) *SQLRemote {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("open remote db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`
		CREATE TABLE clips (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			is_favorite INTEGER NOT NULL DEFAULT 0,
			deleted_at INTEGER,
			updated_at INTEGER NOT NULL,
			lamport INTEGER NOT NULL,
			device_id TEXT NOT NULL
		)`)
	if err != nil {
		t.Fatalf("create remote schema: %v", err)
	}
	return NewSQLRemote(db)
}

func TestPushThenPullConverges(t *testing.T) {
	ctx := context.Background()
	remote := openRemote(t)

	source := openLocal(t)
	if _, err := source.AddText(ctx, "converge me", store.AddTextOptions{}); err != nil {
		t.Fatalf("add text: %v", err)
	}

	pushEngine := New(Config{Local: source, Remote: remote})
	n, err := pushEngine.Push(ctx)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pushed row, got %d", n)
	}

	dest := openLocal(t)
	pullEngine := New(Config{Local: dest, Remote: remote})
	m, err := pullEngine.Pull(ctx)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if m != 1 {
		t.Fatalf("expected 1 pulled row, got %d", m)
	}

	clips, err := dest.List(store.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(clips) != 1 || clips[0].Text != "converge me" {
		t.Fatalf("unexpected clips after pull: %+v", clips)
	}
}

func TestPullDiscardsOlderRemoteRow(t *testing.T) {
	ctx := context.Background()
	remote := openRemote(t)
	dest := openLocal(t)

	id, err := dest.AddText(ctx, "local wins", store.AddTextOptions{})
	if err != nil {
		t.Fatalf("add text: %v", err)
	}
	local, err := dest.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	_, err = remote.db.ExecContext(ctx, `
		INSERT INTO clips (id, kind, text, created_at, is_favorite, deleted_at, updated_at, lamport, device_id)
		VALUES (?, 'text', 'stale remote value', ?, 0, NULL, ?, 0, 'zzz-older-device')`,
		id, local.CreatedAt-1, local.CreatedAt-1,
	)
	if err != nil {
		t.Fatalf("seed stale remote row: %v", err)
	}

	engine := New(Config{Local: dest, Remote: remote})
	if _, err := engine.Pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}

	after, err := dest.Get(id)
	if err != nil {
		t.Fatalf("get after pull: %v", err)
	}
	if after.Text != "local wins" {
		t.Fatalf("expected local value to survive, got %q", after.Text)
	}
}

func TestStatusReportsPendingAndCounts(t *testing.T) {
	ctx := context.Background()
	remote := openRemote(t)
	local := openLocal(t)

	if _, err := local.AddText(ctx, "one", store.AddTextOptions{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := local.AddText(ctx, "two", store.AddTextOptions{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	engine := New(Config{Local: local, Remote: remote})
	st, err := engine.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.PendingPush != 2 {
		t.Fatalf("expected 2 pending, got %d", st.PendingPush)
	}
	if st.LocalText != 2 {
		t.Fatalf("expected 2 local text clips, got %d", st.LocalText)
	}
	if !st.RemoteReachable {
		t.Fatalf("expected remote to be reachable")
	}

	if _, err := engine.Push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	st2, err := engine.Status(ctx)
	if err != nil {
		t.Fatalf("status after push: %v", err)
	}
	if st2.PendingPush != 0 {
		t.Fatalf("expected 0 pending after push, got %d", st2.PendingPush)
	}
}
