package blobstore

import (
	"path/filepath"
	"testing"
)

func TestPutIsIdempotent(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	data := []byte("hello clipboard")
	digest1, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	digest2, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put (second time): %v", err)
	}
	if digest1 != digest2 {
		t.Fatalf("Put not idempotent: %s != %s", digest1, digest2)
	}

	exists, err := store.Exists(digest1)
	if err != nil || !exists {
		t.Fatalf("Exists(%s) = %v, %v, want true, nil", digest1, exists, err)
	}

	if err := store.Verify(digest1); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestPathShardsByFirstTwoBytes(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	digest, err := store.Put([]byte("shard me"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	p, err := store.Path(digest)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	want := filepath.Join(store.Root(), digest[0:2], digest[2:4], digest)
	if p != want {
		t.Fatalf("Path = %q, want %q", p, want)
	}
}

func TestPNGEncoderRoundTrip(t *testing.T) {
	w, h := 2, 2
	rgba := make([]byte, w*h*4)
	for i := range rgba {
		rgba[i] = byte(i)
	}
	enc := PNGEncoder{}
	out, err := enc.Encode(rgba, w, h)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("Encode produced no bytes")
	}
}

func TestBudgetTracksUsage(t *testing.T) {
	b, err := OpenBudget(filepath.Join(t.TempDir(), "budget.bolt"))
	if err != nil {
		t.Fatalf("OpenBudget: %v", err)
	}
	defer b.Close()

	if err := b.Record("abc123", 1024); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := b.Record("def456", 2048); err != nil {
		t.Fatalf("Record: %v", err)
	}
	usage, err := b.Usage()
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage != 3072 {
		t.Fatalf("Usage = %d, want 3072", usage)
	}

	over, _, err := b.OverBudget(0)
	if err != nil {
		t.Fatalf("OverBudget: %v", err)
	}
	if !over {
		t.Fatal("OverBudget(0) = false, want true")
	}

	if err := b.Forget("abc123"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	usage, _ = b.Usage()
	if usage != 2048 {
		t.Fatalf("Usage after Forget = %d, want 2048", usage)
	}
}
