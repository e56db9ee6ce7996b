package watcher

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/benbjohnson/immutable"
)

// dedupeWindow is a small FIFO of recently-seen content hashes (spec
// §4.5: "size ≈ 8"). It is immutable so a tick can snapshot it, compute a
// membership check, and publish a new version without locking against
// concurrent reads from a status command.
type dedupeWindow struct {
	capacity int
	seen     *immutable.List[string]
}

func newDedupeWindow(capacity int) *dedupeWindow {
	if capacity <= 0 {
		capacity = 8
	}
	return &dedupeWindow{capacity: capacity, seen: immutable.NewList[string]()}
}

func hashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Contains reports whether hash is present in the window.
func (w *dedupeWindow) Contains(hash string) bool {
	itr := w.seen.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		if v == hash {
			return true
		}
	}
	return false
}

// Push records hash, evicting the oldest entry once the window is full.
func (w *dedupeWindow) Push(hash string) {
	list := w.seen.Append(hash)
	for list.Len() > w.capacity {
		list = list.Slice(1, list.Len())
	}
	w.seen = list
}
