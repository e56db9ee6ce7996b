// Package syncengine pushes and pulls text clips against a
// SQL-addressable remote, reconciled by the Lamport/updated_at/device_id
// last-write-wins tuple. It follows a probe-reachability-then-back-off
// shape for remote connectivity.
package syncengine

import (
	"context"
	"database/sql"

	"github.com/ditox-dev/ditox/ditoxerr"
)

// RemoteRow mirrors the columns the remote clips table must carry.
type RemoteRow struct {
	ID         string
	Kind       string
	Text       string
	CreatedAt  int64
	IsFavorite bool
	DeletedAt  *int64
	UpdatedAt  int64
	Lamport    int64
	DeviceID   string
}

// Remote is the contract a sync target must satisfy. SQLRemote is the
// concrete implementation; the package tests run it against a local
// SQLite file.
type Remote interface {
	// Probe performs a trivial reachability check.
	Probe(ctx context.Context) error
	// PullSince returns up to limit remote rows with updated_at > since,
	// ordered by updated_at ascending.
	PullSince(ctx context.Context, since int64, limit int) ([]RemoteRow, error)
	// UpsertIfNewer applies row if the remote's current (lamport,
	// updated_at, device_id) tuple for row.ID is strictly less than
	// row's. Returns whether it applied.
	UpsertIfNewer(ctx context.Context, row RemoteRow) (bool, error)
	// SchemaInfo reports the remote's table presence, columns, and
	// user_version for a doctor-style readout.
	SchemaInfo(ctx context.Context) (SchemaInfo, error)
}

// SchemaInfo is the introspection result used by Doctor.
type SchemaInfo struct {
	ClipsTableExists bool
	Columns          []string
	UserVersion      int
	RowCount         int64
}

// SQLRemote implements Remote against a database/sql connection exposing
// a `clips` table with RemoteRow's columns. SchemaInfo reads sqlite_master
// and SQLite pragmas, so the target is a SQLite-family database.
type SQLRemote struct {
	db *sql.DB
}

// NewSQLRemote wraps an already-open *sql.DB.
func NewSQLRemote(db *sql.DB) *SQLRemote { return &SQLRemote{db: db} }

func (r *SQLRemote) Probe(ctx context.Context) error {
	var one int
	if err := r.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "probe remote", err)
	}
	return nil
}

func (r *SQLRemote) PullSince(ctx context.Context, since int64, limit int) ([]RemoteRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, text, created_at, is_favorite, deleted_at, updated_at, lamport, device_id
		FROM clips
		WHERE kind = 'text' AND updated_at > ?
		ORDER BY updated_at ASC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "pull from remote", err)
	}
	defer rows.Close()

	var out []RemoteRow
	for rows.Next() {
		var row RemoteRow
		var isFav int
		var deletedAt sql.NullInt64
		if err := rows.Scan(&row.ID, &row.Kind, &row.Text, &row.CreatedAt, &isFav, &deletedAt, &row.UpdatedAt, &row.Lamport, &row.DeviceID); err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "scan remote row", err)
		}
		row.IsFavorite = isFav != 0
		if deletedAt.Valid {
			v := deletedAt.Int64
			row.DeletedAt = &v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// UpsertIfNewer applies the conditional LWW upsert described in spec
// §4.6, expressed as a single statement so the comparison and write are
// atomic from the caller's point of view.
func (r *SQLRemote) UpsertIfNewer(ctx context.Context, row RemoteRow) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (id, kind, text, created_at, is_favorite, deleted_at, updated_at, lamport, device_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			created_at = excluded.created_at,
			is_favorite = excluded.is_favorite,
			deleted_at = excluded.deleted_at,
			updated_at = excluded.updated_at,
			lamport = excluded.lamport,
			device_id = excluded.device_id
		WHERE (clips.lamport, clips.updated_at, clips.device_id) < (excluded.lamport, excluded.updated_at, excluded.device_id)`,
		row.ID, row.Kind, row.Text, row.CreatedAt, boolToInt(row.IsFavorite), nullableInt(row.DeletedAt), row.UpdatedAt, row.Lamport, row.DeviceID,
	)
	if err != nil {
		return false, ditoxerr.Wrap(ditoxerr.Unavailable, "upsert to remote", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, ditoxerr.Wrap(ditoxerr.Unavailable, "read upsert result", err)
	}
	return n > 0, nil
}

func (r *SQLRemote) SchemaInfo(ctx context.Context) (SchemaInfo, error) {
	var info SchemaInfo
	var name string
	err := r.db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name='clips'`).Scan(&name)
	if err == sql.ErrNoRows {
		return info, nil
	}
	if err != nil {
		return info, ditoxerr.Wrap(ditoxerr.Unavailable, "check remote schema", err)
	}
	info.ClipsTableExists = true

	rows, err := r.db.QueryContext(ctx, `PRAGMA table_info(clips)`)
	if err != nil {
		return info, ditoxerr.Wrap(ditoxerr.Unavailable, "introspect remote columns", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return info, ditoxerr.Wrap(ditoxerr.Unavailable, "scan remote column", err)
		}
		info.Columns = append(info.Columns, colName)
	}

	if err := r.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&info.UserVersion); err != nil {
		return info, ditoxerr.Wrap(ditoxerr.Unavailable, "read remote user_version", err)
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clips`).Scan(&info.RowCount); err != nil {
		return info, ditoxerr.Wrap(ditoxerr.Unavailable, "count remote rows", err)
	}
	return info, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
