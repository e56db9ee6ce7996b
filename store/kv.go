package store

import (
	"database/sql"
	"strconv"

	"github.com/ditox-dev/ditox/ditoxerr"
	"github.com/ditox-dev/ditox/ids"
)

// kv backs the device-wide Lamport counter and sync checkpoints as rows
// in a small key/value table, always mutated in the same transaction as
// the write that needs them.

func kvGet(q querier, key string) (string, bool, error) {
	var v string
	err := q.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, ditoxerr.Wrap(ditoxerr.Unavailable, "read kv", err)
	}
	return v, true, nil
}

func kvSet(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "write kv", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

const kvKeyDeviceID = "device_id"
const kvKeyLamport = "device_lamport"

// loadOrMintDeviceID returns the store's device id, minting and persisting one with
// ids.NewDeviceID if it doesn't exist yet.
func (s *Store) loadOrMintDeviceID() (string, error) {
	if v, ok, err := kvGet(s.db, kvKeyDeviceID); err != nil {
		return "", err
	} else if ok {
		return v, nil
	}

	id := ids.NewDeviceID()
	tx, err := s.db.Begin()
	if err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Unavailable, "begin device id mint", err)
	}
	defer tx.Rollback()
	if err := kvSet(tx, kvKeyDeviceID, id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Unavailable, "commit device id mint", err)
	}
	return id, nil
}

func deviceLamport(q querier) (int64, error) {
	v, ok, err := kvGet(q, kvKeyLamport)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Corruption, "parse device_lamport", err)
	}
	return n, nil
}

// nextLocalLamport applies the local-mutation rule:
// lamport := max(priorRowLamport, device_lamport) + 1, persisting the new
// device_lamport floor in the same transaction.
func nextLocalLamport(tx *sql.Tx, priorRowLamport int64) (int64, error) {
	cur, err := deviceLamport(tx)
	if err != nil {
		return 0, err
	}
	next := priorRowLamport
	if cur > next {
		next = cur
	}
	next++
	if err := kvSet(tx, kvKeyLamport, strconv.FormatInt(next, 10)); err != nil {
		return 0, err
	}
	return next, nil
}

// bumpLamportFloor applies the sync-ingest rule:
// device_lamport := max(device_lamport, remote_row.lamport) + 1, without
// dictating the lamport value stored on the ingested row itself (that
// value is the remote row's own, preserved for LWW comparison).
func bumpLamportFloor(tx *sql.Tx, remoteLamport int64) error {
	cur, err := deviceLamport(tx)
	if err != nil {
		return err
	}
	next := remoteLamport
	if cur > next {
		next = cur
	}
	next++
	return kvSet(tx, kvKeyLamport, strconv.FormatInt(next, 10))
}
