package watcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ditox-dev/ditox/blobstore"
	"github.com/ditox-dev/ditox/driver"
	"github.com/ditox-dev/ditox/store"
)

func openTestStore(t *testing.T) *store.Store {
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

func TestTickPersistsNewText(t *testing.T) {
	s := openTestStore(t)
	fake := driver.NewFake()
	fake.PushText("hello clipboard")

	cfg := DefaultConfig()
	cfg.Driver = fake
	cfg.Store = s
	cfg.LockPath = filepath.Join(t.TempDir(), "managed-daemon.lock")

	w := New(cfg)
	if err := w.tickText(context.Background(), w.log); err != nil {
		t.Fatalf("tickText: %v", err)
	}

	clips, err := s.List(store.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(clips) != 1 || clips[0].Text != "hello clipboard" {
		t.Fatalf("unexpected clips: %+v", clips)
	}
}

func TestTickSkipsUnchangedText(t *testing.T) {
	s := openTestStore(t)
	fake := driver.NewFake()
	fake.PushText("same")

	cfg := DefaultConfig()
	cfg.Driver = fake
	cfg.Store = s
	cfg.QuietPeriod = time.Hour
	cfg.LockPath = filepath.Join(t.TempDir(), "managed-daemon.lock")

	w := New(cfg)
	if err := w.tickText(context.Background(), w.log); err != nil {
		t.Fatalf("tickText 1: %v", err)
	}
	if err := w.tickText(context.Background(), w.log); err != nil {
		t.Fatalf("tickText 2: %v", err)
	}

	clips, err := s.List(store.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(clips) != 1 {
		t.Fatalf("expected exactly one persisted clip, got %d", len(clips))
	}
}

func TestImageOverCapIsSkipped(t *testing.T) {
	s := openTestStore(t)
	fake := driver.NewFake()
	fake.PushImage(driver.Image{Width: 64, Height: 64, Pix: make([]byte, 64*64*4)})

	cfg := DefaultConfig()
	cfg.Driver = fake
	cfg.Store = s
	cfg.ImageCapBytes = 1024
	cfg.LockPath = filepath.Join(t.TempDir(), "managed-daemon.lock")

	w := New(cfg)
	if err := w.tickImage(context.Background(), w.log); err != nil {
		t.Fatalf("tickImage: %v", err)
	}

	clips, err := s.List(store.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(clips) != 0 {
		t.Fatalf("expected over-cap image to be skipped, got %+v", clips)
	}
}

func TestLockRefusesSecondAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "managed-daemon.lock")
	a := NewLock(path)
	if err := a.Acquire(OwnerManaged); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer a.Release()

	b := NewLock(path)
	if err := b.Acquire(OwnerManaged); err == nil {
		t.Fatalf("expected second acquire to fail while first holds the lock")
	}
}

func TestLockRemovesStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "managed-daemon.lock")
	stale := lockInfo{PID: 999999999, StartedAt: time.Now().Unix(), Owner: OwnerManaged}
	if err := NewLock(path).tryCreate(stale); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	l := NewLock(path)
	if err := l.Acquire(OwnerManaged); err != nil {
		t.Fatalf("expected stale lock to be reclaimed: %v", err)
	}
	_ = l.Release()
}

func TestStartStopReleasesLock(t *testing.T) {
	s := openTestStore(t)
	fake := driver.NewFake()
	path := filepath.Join(t.TempDir(), "managed-daemon.lock")

	cfg := DefaultConfig()
	cfg.Driver = fake
	cfg.Store = s
	cfg.SampleInterval = 10 * time.Millisecond
	cfg.LockPath = path

	w := New(cfg)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if w.State() != Active {
		t.Fatalf("expected Active, got %s", w.State())
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if w.State() != Inactive {
		t.Fatalf("expected Inactive after stop, got %s", w.State())
	}

	other := NewLock(path)
	if err := other.Acquire(OwnerManaged); err != nil {
		t.Fatalf("expected lock to be free after stop: %v", err)
	}
	_ = other.Release()
}
