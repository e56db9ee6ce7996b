package store

import (
	"database/sql"

	"github.com/ditox-dev/ditox/ditoxerr"
)

func upsertTagID(tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.Exec(`INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "upsert tag", err)
	}
	var id int64
	if err := tx.QueryRow(`SELECT id FROM tags WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "read tag id", err)
	}
	return id, nil
}

// SetTags replaces the full tag set on a clip.
func (s *Store) SetTags(clipID string, tags []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "begin set_tags", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT 1 FROM clips WHERE id = ? AND deleted_at IS NULL`, clipID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return ditoxerr.New(ditoxerr.NotFound, "clip not found")
		}
		return ditoxerr.Wrap(ditoxerr.Fatal, "check clip for set_tags", err)
	}

	if _, err := tx.Exec(`DELETE FROM clip_tags WHERE clip_id = ?`, clipID); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "clear existing tags", err)
	}

	seen := make(map[string]bool, len(tags))
	for _, name := range tags {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tagID, err := upsertTagID(tx, name)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO clip_tags (clip_id, tag_id) VALUES (?, ?)`, clipID, tagID); err != nil {
			return ditoxerr.Wrap(ditoxerr.Fatal, "link tag", err)
		}
	}
	return tx.Commit()
}

// GetTags returns a clip's tags, alphabetically.
func (s *Store) GetTags(clipID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT t.name FROM tags t
		JOIN clip_tags ct ON ct.tag_id = t.id
		WHERE ct.clip_id = ?
		ORDER BY t.name ASC`, clipID)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "list clip tags", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.Fatal, "scan clip tag", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ListTags returns every known tag name, alphabetically, including tags
// no longer attached to any clip.
func (s *Store) ListTags() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM tags ORDER BY name ASC`)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "list tags", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.Fatal, "scan tag", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
