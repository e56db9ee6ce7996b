package blobstore

import (
	"encoding/binary"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ditox-dev/ditox/ditoxerr"
)

var bucketBudget = []byte("budget")

// Budget is an advisory, bbolt-backed ledger of blob sizes and last-use
// times, tracking storage usage without ever refusing a write: Put()
// never consults it. It is kept in its own embedded database, distinct
// from the clips SQLite file, so recording a blob's size never needs a
// clips write transaction held open across filesystem I/O.
type Budget struct {
	db *bbolt.DB
}

// OpenBudget opens (creating if necessary) the budget ledger at path.
func OpenBudget(path string) (*Budget, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "open blob budget ledger", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBudget)
		return err
	})
	if err != nil {
		db.Close()
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "init blob budget bucket", err)
	}
	return &Budget{db: db}, nil
}

func (b *Budget) Close() error { return b.db.Close() }

// Record notes that sha256 is sizeBytes large, as of now. Call this after
// a successful Store.Put.
func (b *Budget) Record(sha256Hex string, sizeBytes int64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketBudget)
		buf := make([]byte, 16)
		binary.BigEndian.PutUint64(buf[0:8], uint64(sizeBytes))
		binary.BigEndian.PutUint64(buf[8:16], uint64(time.Now().UnixNano()))
		return bkt.Put([]byte(sha256Hex), buf)
	})
}

// Forget removes sha256 from the ledger, typically after a prune deletes
// the backing blob.
func (b *Budget) Forget(sha256Hex string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBudget).Delete([]byte(sha256Hex))
	})
}

// Usage returns the total bytes currently tracked by the ledger.
func (b *Budget) Usage() (int64, error) {
	var total int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBudget).ForEach(func(k, v []byte) error {
			if len(v) >= 8 {
				total += int64(binary.BigEndian.Uint64(v[0:8]))
			}
			return nil
		})
	})
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "scan blob budget ledger", err)
	}
	return total, nil
}

// OverBudget reports whether tracked usage exceeds maxMB megabytes. It is
// a pure query: callers such as doctor decide what, if anything, to do.
func (b *Budget) OverBudget(maxMB int64) (bool, int64, error) {
	used, err := b.Usage()
	if err != nil {
		return false, 0, err
	}
	return used > maxMB*1024*1024, used, nil
}
