package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ditox-dev/ditox/ditoxerr"
	"github.com/ditox-dev/ditox/telemetry"
)

// touchLamport computes a clip's next lamport under the local mutation
// rule (persisting the new device floor) and returns it for the caller to
// write alongside updated_at and its own column changes.
func (s *Store) touchLamport(tx *sql.Tx, id string) (int64, error) {
	var prior int64
	err := tx.QueryRow(`SELECT lamport FROM clips WHERE id = ?`, id).Scan(&prior)
	if err == sql.ErrNoRows {
		return 0, ditoxerr.New(ditoxerr.NotFound, "clip not found")
	}
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "read clip lamport", err)
	}
	return nextLocalLamport(tx, prior)
}

// Favorite sets or clears the favorite flag on a clip.
func (s *Store) Favorite(id string, fav bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "begin favorite", err)
	}
	defer tx.Rollback()

	lamport, err := s.touchLamport(tx, id)
	if err != nil {
		return err
	}
	ts := now()
	res, err := tx.Exec(`
		UPDATE clips SET is_favorite = ?, updated_at = ?, lamport = ?, device_id = ?
		WHERE id = ? AND deleted_at IS NULL`,
		boolToInt(fav), ts, lamport, s.deviceID, id,
	)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "update favorite", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ditoxerr.New(ditoxerr.NotFound, "clip not found")
	}
	return tx.Commit()
}

// TouchLastUsed stamps a clip as just having been used (e.g. pasted),
// advancing its recency without altering its content.
func (s *Store) TouchLastUsed(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "begin touch", err)
	}
	defer tx.Rollback()

	lamport, err := s.touchLamport(tx, id)
	if err != nil {
		return err
	}
	ts := now()
	res, err := tx.Exec(`
		UPDATE clips SET last_used_at = ?, updated_at = ?, lamport = ?, device_id = ?
		WHERE id = ? AND deleted_at IS NULL`,
		ts, ts, lamport, s.deviceID, id,
	)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "update last_used_at", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ditoxerr.New(ditoxerr.NotFound, "clip not found")
	}
	return tx.Commit()
}

// Delete tombstones a clip: it stops appearing in List/Search but its row
// (and sync history) is retained indefinitely so the delete can still
// propagate to devices that have not yet observed it.
func (s *Store) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "begin delete", err)
	}
	defer tx.Rollback()

	lamport, err := s.touchLamport(tx, id)
	if err != nil {
		return err
	}
	ts := now()
	res, err := tx.Exec(`
		UPDATE clips SET deleted_at = ?, updated_at = ?, lamport = ?, device_id = ?
		WHERE id = ? AND deleted_at IS NULL`,
		ts, ts, lamport, s.deviceID, id,
	)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "tombstone clip", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ditoxerr.New(ditoxerr.NotFound, "clip not found")
	}
	return tx.Commit()
}

// ClearAll tombstones every non-deleted, non-favorite clip. Favorites
// survive, matching Prune's keep_favorites default.
func (s *Store) ClearAll() (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Unavailable, "begin clear_all", err)
	}
	defer tx.Rollback()

	ts := now()
	rows, err := tx.Query(`SELECT id, lamport FROM clips WHERE deleted_at IS NULL AND is_favorite = 0`)
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "select clear_all candidates", err)
	}
	type idLamport struct {
		id      string
		lamport int64
	}
	var targets []idLamport
	for rows.Next() {
		var t idLamport
		if err := rows.Scan(&t.id, &t.lamport); err != nil {
			rows.Close()
			return 0, ditoxerr.Wrap(ditoxerr.Fatal, "scan clear_all candidate", err)
		}
		targets = append(targets, t)
	}
	rows.Close()

	var affected int64
	for _, t := range targets {
		lamport, err := nextLocalLamport(tx, t.lamport)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(`
			UPDATE clips SET deleted_at = ?, updated_at = ?, lamport = ?, device_id = ?
			WHERE id = ?`, ts, ts, lamport, s.deviceID, t.id); err != nil {
			return 0, ditoxerr.Wrap(ditoxerr.Fatal, "tombstone clip in clear_all", err)
		}
		affected++
	}
	if err := tx.Commit(); err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "commit clear_all", err)
	}
	return affected, nil
}

// PruneOptions bounds what Prune removes. A nil MaxItems leaves the count
// unbounded; MaxAgeSeconds of zero leaves the age unbounded. MaxItems
// pointing at zero is meaningful: it means "keep none", so
// Prune(PruneOptions{MaxItems: ptrTo(0), KeepFavorites: true}) tombstones
// every non-favorite clip.
type PruneOptions struct {
	KeepFavorites bool
	MaxItems      *int
	MaxAgeSeconds int64
}

// Prune tombstones clips beyond the configured retention bounds, oldest
// first.
func (s *Store) Prune(ctx context.Context, opts PruneOptions) (int64, error) {
	_, end := telemetry.StartSpan(ctx, "store.Prune")
	defer end()
	timer := telemetry.Start("store.Prune", s.log)
	defer timer.StopWithThreshold(time.Second)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Unavailable, "begin prune", err)
	}
	defer tx.Rollback()

	where := "deleted_at IS NULL"
	var args []any
	if opts.KeepFavorites {
		where += " AND is_favorite = 0"
	}
	var cutoff int64
	if opts.MaxAgeSeconds > 0 {
		cutoff = now() - opts.MaxAgeSeconds*1_000_000_000
	}

	rows, err := tx.Query(`
		SELECT id, lamport, COALESCE(last_used_at, created_at) FROM clips WHERE `+where+`
		ORDER BY COALESCE(last_used_at, created_at) DESC, id DESC`, args...)
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "select prune candidates", err)
	}
	type idLamport struct {
		id      string
		lamport int64
		recency int64
	}
	var all []idLamport
	for rows.Next() {
		var t idLamport
		if err := rows.Scan(&t.id, &t.lamport, &t.recency); err != nil {
			rows.Close()
			return 0, ditoxerr.Wrap(ditoxerr.Fatal, "scan prune candidate", err)
		}
		all = append(all, t)
	}
	rows.Close()

	pruneSet := make(map[string]idLamport)
	if opts.MaxItems != nil {
		limit := *opts.MaxItems
		if limit < 0 {
			limit = 0
		}
		if limit < len(all) {
			for _, t := range all[limit:] {
				pruneSet[t.id] = t
			}
		}
	}
	if opts.MaxAgeSeconds > 0 {
		for _, t := range all {
			if t.recency < cutoff {
				pruneSet[t.id] = t
			}
		}
	}
	toPrune := make([]idLamport, 0, len(pruneSet))
	for _, t := range pruneSet {
		toPrune = append(toPrune, t)
	}

	ts := now()
	var affected int64
	for _, t := range toPrune {
		lamport, err := nextLocalLamport(tx, t.lamport)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(`
			UPDATE clips SET deleted_at = ?, updated_at = ?, lamport = ?, device_id = ?
			WHERE id = ?`, ts, ts, lamport, s.deviceID, t.id); err != nil {
			return 0, ditoxerr.Wrap(ditoxerr.Fatal, "tombstone clip in prune", err)
		}
		affected++
	}
	if err := tx.Commit(); err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "commit prune", err)
	}
	return affected, nil
}
