package store

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/ditox-dev/ditox/blobstore"
	"github.com/ditox-dev/ditox/ditoxerr"
	"github.com/ditox-dev/ditox/ids"
	"github.com/ditox-dev/ditox/telemetry"
)

func newImportID() string { return ids.NewClipID() }

// exportRecord is one line of the clips.jsonl export format.
type exportRecord struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	Text       string   `json:"text,omitempty"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  *int64   `json:"updated_at,omitempty"`
	LastUsedAt *int64   `json:"last_used_at,omitempty"`
	IsFavorite bool     `json:"is_favorite"`
	DeletedAt  *int64   `json:"deleted_at,omitempty"`
	Lamport    int64    `json:"lamport"`
	DeviceID   string   `json:"device_id"`
	Tags       []string `json:"tags,omitempty"`
	Image      *struct {
		Format    string `json:"format"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		SizeBytes int64  `json:"size_bytes"`
		SHA256    string `json:"sha256"`
	} `json:"image,omitempty"`
}

// Export writes every clip, including tombstones, as newline-delimited
// JSON to dir/clips.jsonl, and copies any referenced image blobs into
// dir/objects/aa/bb/<sha256>.
func (s *Store) Export(ctx context.Context, dir string) (int, error) {
	_, end := telemetry.StartSpan(ctx, "store.Export")
	defer end()
	timer := telemetry.Start("store.Export", s.log)
	defer timer.Stop()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "create export dir", err)
	}

	rows, err := s.db.Query(`SELECT ` + clipColumns + ` FROM clips c ORDER BY c.id ASC`)
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "query clips for export", err)
	}
	defer rows.Close()

	f, err := os.OpenFile(filepath.Join(dir, "clips.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "create clips.jsonl", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	var n int
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return n, ditoxerr.Wrap(ditoxerr.Fatal, "scan clip for export", err)
		}
		if err := s.attachImageMeta(&c); err != nil {
			return n, err
		}
		tags, err := s.GetTags(c.ID)
		if err != nil {
			return n, err
		}

		rec := exportRecord{
			ID: c.ID, Kind: c.Kind, Text: c.Text, CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt, LastUsedAt: c.LastUsedAt, IsFavorite: c.IsFavorite,
			DeletedAt: c.DeletedAt, Lamport: c.Lamport, DeviceID: c.DeviceID, Tags: tags,
		}
		if c.Image != nil {
			rec.Image = &struct {
				Format    string `json:"format"`
				Width     int    `json:"width"`
				Height    int    `json:"height"`
				SizeBytes int64  `json:"size_bytes"`
				SHA256    string `json:"sha256"`
			}{c.Image.Format, c.Image.Width, c.Image.Height, c.Image.SizeBytes, c.Image.SHA256}

			if s.blobs != nil {
				if err := copyBlob(s.blobs, dir, c.Image.SHA256); err != nil {
					return n, err
				}
			}
		}

		if err := enc.Encode(rec); err != nil {
			return n, ditoxerr.Wrap(ditoxerr.Fatal, "write export record", err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, ditoxerr.Wrap(ditoxerr.Fatal, "iterate export rows", err)
	}
	if err := w.Flush(); err != nil {
		return n, ditoxerr.Wrap(ditoxerr.Fatal, "flush clips.jsonl", err)
	}
	return n, nil
}

// shardedPath mirrors blobstore's aa/bb/<sha> layout for the
// export/import side channel, which lives outside the content-addressed
// store proper.
func shardedPath(base, sha string) string {
	return filepath.Join(base, "objects", sha[0:2], sha[2:4], sha)
}

func copyBlob(blobs *blobstore.Store, dir, sha string) error {
	src, err := blobs.OpenBlob(sha)
	if err != nil {
		return err
	}
	defer src.Close()

	dest := shardedPath(dir, sha)
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "create export blob dir", err)
	}
	dst, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "create exported blob file", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "copy blob to export", err)
	}
	return nil
}

// ImportOptions configures Import.
type ImportOptions struct {
	// KeepIDs preserves the original clip ids; otherwise new ids are
	// minted and references are not remapped across records.
	KeepIDs bool
	// Dedupe skips a record whose id (when KeepIDs) or exact text already
	// exists in the store.
	Dedupe bool
}

// Import reads a clips.jsonl export (as produced by Export) and inserts
// the records it contains, restoring tags and image blob bytes from
// dir/objects/aa/bb/<sha256>.
func (s *Store) Import(ctx context.Context, dir string, opts ImportOptions) (int, error) {
	_, end := telemetry.StartSpan(ctx, "store.Import")
	defer end()
	timer := telemetry.Start("store.Import", s.log)
	defer timer.Stop()

	f, err := os.Open(filepath.Join(dir, "clips.jsonl"))
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Fatal, "open clips.jsonl", err)
	}
	defer f.Close()

	var imported int
	dec := json.NewDecoder(f)
	for {
		var rec exportRecord
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return imported, ditoxerr.Wrap(ditoxerr.InvalidInput, "parse import record", err)
		}

		if opts.Dedupe {
			skip, err := s.importDuplicate(rec, opts)
			if err != nil {
				return imported, err
			}
			if skip {
				continue
			}
		}

		if err := s.importOne(dir, rec, opts); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

func (s *Store) importDuplicate(rec exportRecord, opts ImportOptions) (bool, error) {
	if opts.KeepIDs {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM clips WHERE id = ?`, rec.ID).Scan(&exists)
		if err == nil {
			return true, nil
		}
		return false, nil
	}
	if rec.Kind != "text" {
		return false, nil
	}
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM clips WHERE text = ? AND deleted_at IS NULL LIMIT 1`, rec.Text).Scan(&exists)
	return err == nil, nil
}

func (s *Store) importOne(dir string, rec exportRecord, opts ImportOptions) error {
	id := rec.ID
	if !opts.KeepIDs {
		id = newImportID()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "begin import", err)
	}
	defer tx.Rollback()

	if err := bumpLamportFloor(tx, rec.Lamport); err != nil {
		return err
	}

	var imagePath *string
	if rec.Image != nil && s.blobs != nil {
		if err := restoreBlob(s.blobs, dir, rec.Image.SHA256); err != nil {
			return err
		}
	}

	_, err = tx.Exec(`
		INSERT INTO clips (id, kind, text, created_at, updated_at, last_used_at, lamport, device_id, is_favorite, deleted_at, is_image, image_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.Kind, rec.Text, rec.CreatedAt, nullableInt(rec.UpdatedAt), nullableInt(rec.LastUsedAt),
		rec.Lamport, rec.DeviceID, boolToInt(rec.IsFavorite), nullableInt(rec.DeletedAt),
		boolToInt(rec.Kind == "image"), nullableString(imagePath),
	)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "insert imported clip", err)
	}

	if rec.Image != nil {
		_, err = tx.Exec(`
			INSERT INTO images (clip_id, format, width, height, size_bytes, sha256)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, rec.Image.Format, rec.Image.Width, rec.Image.Height, rec.Image.SizeBytes, rec.Image.SHA256,
		)
		if err != nil {
			return ditoxerr.Wrap(ditoxerr.Fatal, "insert imported image metadata", err)
		}
	}

	for _, name := range rec.Tags {
		tagID, err := upsertTagID(tx, name)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO clip_tags (clip_id, tag_id) VALUES (?, ?)`, id, tagID); err != nil {
			return ditoxerr.Wrap(ditoxerr.Fatal, "link imported tag", err)
		}
	}

	return tx.Commit()
}

// restoreBlob re-ingests an exported blob into the local content-addressed
// store. Put is idempotent, so a blob already present (e.g. re-importing
// onto the same device) is a no-op beyond the hash check.
func restoreBlob(blobs *blobstore.Store, dir, sha string) error {
	data, err := os.ReadFile(shardedPath(dir, sha))
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "read exported blob", err)
	}
	got, err := blobs.Put(data)
	if err != nil {
		return err
	}
	if got != sha {
		return ditoxerr.New(ditoxerr.Corruption, "imported blob hash mismatch")
	}
	return nil
}

func nullableInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
