package store

import (
	"database/sql"

	"github.com/ditox-dev/ditox/ditoxerr"
)

// GetMeta and SetMeta expose the kv table to the sync engine for its
// checkpoint state (last_push_updated_at, last_pull_updated_at,
// last_error).
func (s *Store) GetMeta(key string) (string, bool, error) { return kvGet(s.db, key) }

func (s *Store) SetMeta(key, value string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "begin set_meta", err)
	}
	defer tx.Rollback()
	if err := kvSet(tx, key, value); err != nil {
		return err
	}
	return tx.Commit()
}

// SyncRow is the subset of a text clip the sync engine pushes or merges.
type SyncRow struct {
	ID         string
	Text       string
	CreatedAt  int64
	IsFavorite bool
	DeletedAt  *int64
	UpdatedAt  int64
	Lamport    int64
	DeviceID   string
}

// TextRowsSince returns local text clips with updated_at > since, oldest
// first, limited to limit. Tombstoned rows are included: a delete must
// still propagate.
func (s *Store) TextRowsSince(since int64, limit int) ([]SyncRow, error) {
	rows, err := s.db.Query(`
		SELECT id, text, created_at, is_favorite, deleted_at, updated_at, lamport, device_id
		FROM clips
		WHERE kind = 'text' AND updated_at > ?
		ORDER BY updated_at ASC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "select text rows for push", err)
	}
	defer rows.Close()

	var out []SyncRow
	for rows.Next() {
		var r SyncRow
		var isFav int
		var deletedAt, updatedAt sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Text, &r.CreatedAt, &isFav, &deletedAt, &updatedAt, &r.Lamport, &r.DeviceID); err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.Fatal, "scan text row for push", err)
		}
		r.IsFavorite = isFav != 0
		if deletedAt.Valid {
			v := deletedAt.Int64
			r.DeletedAt = &v
		}
		if updatedAt.Valid {
			r.UpdatedAt = updatedAt.Int64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PendingPushCount reports the number of local text rows not yet pushed,
// for a `sync status` readout.
func (s *Store) PendingPushCount(since int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM clips WHERE kind = 'text' AND updated_at > ?`, since).Scan(&n)
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "count pending push rows", err)
	}
	return n, nil
}

// Counts reports local text/image counts for `sync status`.
func (s *Store) Counts() (text int64, image int64, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM clips WHERE kind = 'text' AND deleted_at IS NULL`).Scan(&text); err != nil {
		return 0, 0, ditoxerr.Wrap(ditoxerr.Fatal, "count text clips", err)
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM clips WHERE kind = 'image' AND deleted_at IS NULL`).Scan(&image); err != nil {
		return 0, 0, ditoxerr.Wrap(ditoxerr.Fatal, "count image clips", err)
	}
	return text, image, nil
}

// MergeRemote applies a pulled remote row under the last-write-wins tuple
// order: replace if local is absent or strictly less, otherwise discard.
// Returns whether it was applied.
func (s *Store) MergeRemote(row SyncRow) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, ditoxerr.Wrap(ditoxerr.Unavailable, "begin merge_remote", err)
	}
	defer tx.Rollback()

	var localLamport, localUpdatedAt int64
	var localDeviceID string
	err = tx.QueryRow(`SELECT lamport, updated_at, device_id FROM clips WHERE id = ?`, row.ID).
		Scan(&localLamport, &localUpdatedAt, &localDeviceID)

	applies := err == sql.ErrNoRows
	if err != nil && err != sql.ErrNoRows {
		return false, ditoxerr.Wrap(ditoxerr.Fatal, "read local row for merge", err)
	}
	if err == nil {
		applies = lwwLess(localLamport, localUpdatedAt, localDeviceID, row.Lamport, row.UpdatedAt, row.DeviceID)
	}
	if !applies {
		return false, tx.Commit()
	}

	if _, err := tx.Exec(`
		INSERT INTO clips (id, kind, text, created_at, updated_at, last_used_at, lamport, device_id, is_favorite, deleted_at, is_image)
		VALUES (?, 'text', ?, ?, ?, NULL, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			updated_at = excluded.updated_at,
			lamport = excluded.lamport,
			device_id = excluded.device_id,
			is_favorite = excluded.is_favorite,
			deleted_at = excluded.deleted_at`,
		row.ID, row.Text, row.CreatedAt, row.UpdatedAt, row.Lamport, row.DeviceID,
		boolToInt(row.IsFavorite), nullableInt(row.DeletedAt),
	); err != nil {
		return false, ditoxerr.Wrap(ditoxerr.Fatal, "merge remote row", err)
	}

	if err := bumpLamportFloor(tx, row.Lamport); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, ditoxerr.Wrap(ditoxerr.Fatal, "commit merge_remote", err)
	}
	return true, nil
}

// lwwLess reports whether (lamport, updatedAt, deviceID) is strictly
// less than (lamport2, updatedAt2, deviceID2) under lexicographic tuple
// order.
func lwwLess(lamport, updatedAt int64, deviceID string, lamport2, updatedAt2 int64, deviceID2 string) bool {
	if lamport != lamport2 {
		return lamport < lamport2
	}
	if updatedAt != updatedAt2 {
		return updatedAt < updatedAt2
	}
	return deviceID < deviceID2
}
