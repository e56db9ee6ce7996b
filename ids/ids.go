// Package ids mints the lexicographically-sortable identifiers ditox uses
// for clips and devices, grounded on the same oklog/ulid primitive the
// unpack pipeline uses to derive a stable numeric device id from
// ulid.Make().Time().
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// source is a monotonic ULID entropy source: two ids minted within the
// same millisecond still compare in mint order, which is what lets Clip.id
// double as the recency tiebreaker required by the data model's ordering
// rules.
var (
	mu     sync.Mutex
	source = ulid.Monotonic(rand.Reader, 0)
)

// NewClipID returns a new time-prefixed, globally-unique clip id.
func NewClipID() string {
	return newULID()
}

// NewDeviceID returns a new device identifier. Devices don't need the
// monotonic property clips do, but reusing the same generator keeps the
// id format (and its collision properties) consistent across the store.
func NewDeviceID() string {
	return newULID()
}

// NewRunID returns an id used to correlate a single watcher tick or sync
// batch across log lines.
func NewRunID() string {
	return newULID()
}

func newULID() string {
	mu.Lock()
	defer mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), source)
	return id.String()
}
