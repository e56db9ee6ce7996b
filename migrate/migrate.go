// Package migrate applies ditox's embedded, ordered SQL migrations in an
// apply-in-a-transaction, record-then-commit shape. The database's own
// PRAGMA user_version is the source of truth for what has been applied;
// a side table is kept anyway, as an audit log, since it costs nothing
// and makes migration history inspectable.
package migrate

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ditox-dev/ditox/ditoxerr"
)

// Migration is one named, versioned, idempotent schema change.
type Migration struct {
	Version     int
	Name        string
	apply       func(tx *sql.Tx, fts5 bool) error
}

// Migrations returns the authoritative, ordered migration list.
func Migrations() []Migration {
	return []Migration{
		{1, "core clips and images tables", func(tx *sql.Tx, _ bool) error {
			_, err := tx.Exec(schema001ClipsAndImages)
			return err
		}},
		{2, "fts5 index with maintenance triggers", func(tx *sql.Tx, fts5 bool) error {
			if !fts5 {
				return nil // skipped: store records fts=false at Open
			}
			if _, err := tx.Exec(ftsSchema); err != nil {
				return err
			}
			_, err := tx.Exec(ftsRebuild)
			return err
		}},
		{3, "image columns on clips", func(tx *sql.Tx, _ bool) error {
			_, err := tx.Exec(schema003ImageColumns)
			return err
		}},
		{4, "sync columns and kv table", func(tx *sql.Tx, _ bool) error {
			_, err := tx.Exec(schema004SyncColumns)
			return err
		}},
		{5, "tags and clip_tags", func(tx *sql.Tx, _ bool) error {
			_, err := tx.Exec(schema005Tags)
			return err
		}},
		{6, "last_used_at column and index", func(tx *sql.Tx, _ bool) error {
			_, err := tx.Exec(schema006LastUsed)
			return err
		}},
		{7, "recency index", func(tx *sql.Tx, _ bool) error {
			_, err := tx.Exec(schema007RecencyIndex)
			return err
		}},
		{8, "nanosecond timestamp upgrade", func(tx *sql.Tx, _ bool) error {
			return upgradeToNanoseconds(tx)
		}},
	}
}

// upgradeToNanoseconds multiplies legacy second-magnitude timestamps
// (magnitude below 10^12) by 10^9 so every timestamp column ends up in
// nanoseconds.
func upgradeToNanoseconds(tx *sql.Tx) error {
	const threshold = 1_000_000_000_000 // 10^12
	cols := []string{"created_at", "updated_at", "last_used_at", "deleted_at"}
	for _, col := range cols {
		stmt := fmt.Sprintf(
			`UPDATE clips SET %s = %s * 1000000000 WHERE %s IS NOT NULL AND %s < ? AND %s > 0`,
			col, col, col, col, col,
		)
		if _, err := tx.Exec(stmt, threshold); err != nil {
			return fmt.Errorf("upgrade %s to nanoseconds: %w", col, err)
		}
	}
	// Indices are unaffected by value changes, but re-asserting them
	// documents that migration 8 owns a refresh of every time-based index.
	for _, stmt := range []string{schema007RecencyIndex} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const auditTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func currentVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "read user_version", err)
	}
	return v, nil
}

func setVersion(tx *sql.Tx, v int) error {
	// PRAGMA does not accept bind parameters; v is our own int, never
	// user input, so formatting it directly is safe.
	_, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, v))
	return err
}

// Status reports the current and latest schema versions and the names of
// pending migrations.
type Status struct {
	Current int
	Latest  int
	Pending []string
}

// GetStatus reports the current schema version against the latest
// known migration, and names any still-pending migrations.
func GetStatus(db *sql.DB) (Status, error) {
	cur, err := currentVersion(db)
	if err != nil {
		return Status{}, err
	}
	all := Migrations()
	latest := 0
	var pending []string
	for _, m := range all {
		if m.Version > latest {
			latest = m.Version
		}
		if m.Version > cur {
			pending = append(pending, m.Name)
		}
	}
	return Status{Current: cur, Latest: latest, Pending: pending}, nil
}

// ApplyOptions configures Apply.
type ApplyOptions struct {
	// Backup, if true, copies the database file to
	// <db>.bak.<yyyymmddhhmmss> before applying pending migrations.
	Backup bool
	// DBPath is required when Backup is true.
	DBPath string
	// AllowVersionlessRemote permits running against a connection that
	// rejects PRAGMA user_version writes (e.g. a remote replica). Every
	// migration script in this package is idempotent, so leaving the
	// version at 0 and re-applying on every Apply call is safe, per spec
	// §4.3.
	AllowVersionlessRemote bool
}

// Apply brings db to the latest schema version. It is idempotent: a
// second call with nothing pending performs no writes and returns nil.
func Apply(db *sql.DB, opts ApplyOptions) error {
	if opts.Backup {
		if opts.DBPath == "" {
			return ditoxerr.New(ditoxerr.InvalidInput, "backup requested without DBPath")
		}
		if err := backupFile(opts.DBPath); err != nil {
			return err
		}
	}

	fts5 := ProbeFTS5(db)

	cur, err := currentVersion(db)
	if err != nil {
		return err
	}

	if _, err := db.Exec(auditTable); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "create schema_migrations audit table", err)
	}

	for _, m := range Migrations() {
		if m.Version <= cur {
			continue
		}
		if err := applyOne(db, m, fts5, opts.AllowVersionlessRemote); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(db *sql.DB, m Migration, fts5, versionless bool) error {
	tx, err := db.Begin()
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "begin migration transaction", err)
	}
	defer tx.Rollback()

	if err := m.apply(tx, fts5); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, fmt.Sprintf("apply migration %d (%s)", m.Version, m.Name), err)
	}

	if !versionless {
		if err := setVersion(tx, m.Version); err != nil {
			return ditoxerr.Wrap(ditoxerr.Fatal, "advance user_version", err)
		}
	}

	if _, err := tx.Exec(auditTable); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "create schema_migrations audit table", err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "record migration in audit log", err)
	}

	if err := tx.Commit(); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "commit migration", err)
	}
	return nil
}

func backupFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing to back up yet
		}
		return ditoxerr.Wrap(ditoxerr.Fatal, "open database for backup", err)
	}
	defer src.Close()

	stamp := time.Now().UTC().Format("20060102150405")
	dstPath := fmt.Sprintf("%s.bak.%s", path, stamp)
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "create backup file", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "copy database backup", err)
	}
	return dst.Sync()
}
