package migrate

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestApplyIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	if err := Apply(db, ApplyOptions{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	status, err := GetStatus(db)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if len(status.Pending) != 0 {
		t.Fatalf("after Apply, pending = %v, want none", status.Pending)
	}
	if status.Current != status.Latest {
		t.Fatalf("Current=%d, Latest=%d, want equal", status.Current, status.Latest)
	}

	// Second apply must be a no-op: no error, nothing pending.
	if err := Apply(db, ApplyOptions{}); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	status2, err := GetStatus(db)
	if err != nil {
		t.Fatalf("GetStatus (second): %v", err)
	}
	if status2.Current != status.Current {
		t.Fatalf("second Apply changed version: %d -> %d", status.Current, status2.Current)
	}
}

func TestStatusReportsPendingBeforeApply(t *testing.T) {
	db := openTestDB(t)

	status, err := GetStatus(db)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Current != 0 {
		t.Fatalf("Current = %d, want 0 on fresh db", status.Current)
	}
	if len(status.Pending) != len(Migrations()) {
		t.Fatalf("Pending = %d migrations, want %d", len(status.Pending), len(Migrations()))
	}
}

func TestNanosecondUpgrade(t *testing.T) {
	db := openTestDB(t)

	// Apply migrations 1-7 only, then hand-seed a legacy second-magnitude
	// row before applying migration 8.
	fts5 := ProbeFTS5(db)
	for _, m := range Migrations() {
		if m.Version == 8 {
			break
		}
		if err := applyOne(db, m, fts5, false); err != nil {
			t.Fatalf("apply migration %d: %v", m.Version, err)
		}
	}

	legacySeconds := int64(1_700_000_000) // plainly seconds, not nanoseconds
	if _, err := db.Exec(
		`INSERT INTO clips (id, kind, text, created_at, updated_at, device_id) VALUES (?, 'text', 'x', ?, ?, 'dev')`,
		"01AAAAAAAAAAAAAAAAAAAAAAAA", legacySeconds, legacySeconds,
	); err != nil {
		t.Fatalf("seed legacy row: %v", err)
	}

	if err := Apply(db, ApplyOptions{}); err != nil {
		t.Fatalf("Apply through migration 8: %v", err)
	}

	var createdAt int64
	if err := db.QueryRow(`SELECT created_at FROM clips WHERE id = ?`, "01AAAAAAAAAAAAAAAAAAAAAAAA").Scan(&createdAt); err != nil {
		t.Fatalf("query upgraded row: %v", err)
	}
	want := legacySeconds * 1_000_000_000
	if createdAt != want {
		t.Fatalf("created_at = %d, want %d", createdAt, want)
	}
}
