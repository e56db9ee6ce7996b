package migrate

import "database/sql"

// ProbeFTS5 reports whether the loaded sqlite build supports FTS5, by
// attempting to create and immediately roll back a throwaway virtual
// table inside a transaction.
func ProbeFTS5(db *sql.DB) bool {
	tx, err := db.Begin()
	if err != nil {
		return false
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE VIRTUAL TABLE __ditox_fts_probe USING fts5(x)`); err != nil {
		return false
	}
	return true
}
