// Package eventlog records structured operational notices (watcher
// skips, sync errors, prune runs) in a small bbolt database separate
// from the main clip store, so a reader of recent activity never
// contends with the SQLite writer. It is grounded on blobstore.Budget's
// use of go.etcd.io/bbolt as a side-channel store.
package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ditox-dev/ditox/ditoxerr"
)

var bucketEvents = []byte("events")

// Event is one structured notice.
type Event struct {
	Seq       uint64         `json:"seq"`
	At        int64          `json:"at"` // unix nanoseconds
	Source    string         `json:"source"` // "watcher" | "sync" | "prune"
	Level     string         `json:"level"`  // "info" | "warn" | "error"
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Log is an append-only, bounded ring of recent events.
type Log struct {
	db      *bbolt.DB
	maxKept int
}

// Open opens (creating if necessary) the event log at path.
func Open(path string, maxKept int) (*Log, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "open event log", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	}); err != nil {
		db.Close()
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "create event bucket", err)
	}
	if maxKept <= 0 {
		maxKept = 500
	}
	return &Log{db: db, maxKept: maxKept}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error { return l.db.Close() }

// Record appends an event, evicting the oldest entries beyond maxKept.
func (l *Log) Record(source, level, message string, fields map[string]any) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		ev := Event{Seq: seq, At: time.Now().UnixNano(), Source: source, Level: level, Message: message, Fields: fields}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}
		return evictOldest(b, l.maxKept)
	})
}

func evictOldest(b *bbolt.Bucket, maxKept int) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for i := 0; i < len(keys)-maxKept; i++ {
		if err := b.Delete(keys[i]); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns up to n most recent events, newest first.
func (l *Log) Recent(n int) ([]Event, error) {
	var out []Event
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return ditoxerr.Wrap(ditoxerr.Corruption, "decode event", err)
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func seqKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}
