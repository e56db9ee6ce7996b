package store

import (
	"context"

	"github.com/ditox-dev/ditox/blobstore"
	"github.com/ditox-dev/ditox/ditoxerr"
	"github.com/ditox-dev/ditox/ids"
	"github.com/ditox-dev/ditox/telemetry"
)

// AddTextOptions configures AddText.
type AddTextOptions struct {
	// AllowEmpty permits an empty body; the default forbids it, since an
	// empty clip is almost always a capture-path bug rather than intent.
	AllowEmpty bool
}

// AddText inserts a new text clip and returns its id.
func (s *Store) AddText(ctx context.Context, body string, opts AddTextOptions) (string, error) {
	_, end := telemetry.StartSpan(ctx, "store.AddText")
	defer end()
	timer := telemetry.Start("store.AddText", s.log)
	defer timer.Stop()

	if body == "" && !opts.AllowEmpty {
		return "", ditoxerr.New(ditoxerr.InvalidInput, "empty clip body")
	}

	id := ids.NewClipID()
	ts := now()

	tx, err := s.db.Begin()
	if err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Unavailable, "begin add_text", err)
	}
	defer tx.Rollback()

	lamport, err := nextLocalLamport(tx, 0)
	if err != nil {
		return "", err
	}

	_, err = tx.Exec(`
		INSERT INTO clips (id, kind, text, created_at, updated_at, lamport, device_id, is_favorite, is_image)
		VALUES (?, 'text', ?, ?, ?, ?, ?, 0, 0)`,
		id, body, ts, ts, lamport, s.deviceID,
	)
	if err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "insert text clip", err)
	}

	if err := tx.Commit(); err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "commit add_text", err)
	}

	if s.metrics != nil {
		s.metrics.CaptureAdds.WithLabelValues("text").Inc()
	}
	return id, nil
}

// AddImageOptions configures AddImage.
type AddImageOptions struct {
	// Encoding selects the encoder from blobstore.Encoders(); defaults to
	// "png".
	Encoding string
	// PathMode, when true, additionally writes the encoded file to Dir
	// and records it as Clip.ImagePath.
	PathMode bool
	Dir      string
}

// AddImage encodes an RGBA buffer, writes it to the blob store (and
// optionally to a caller-specified directory), and inserts the clip and
// image rows atomically.
func (s *Store) AddImage(ctx context.Context, rgba []byte, width, height int, opts AddImageOptions) (string, error) {
	_, end := telemetry.StartSpan(ctx, "store.AddImage")
	defer end()
	timer := telemetry.Start("store.AddImage", s.log)
	defer timer.Stop()

	if s.blobs == nil {
		return "", ditoxerr.New(ditoxerr.Unavailable, "store opened without a blob store")
	}
	encoding := opts.Encoding
	if encoding == "" {
		encoding = "png"
	}
	enc, ok := blobstore.Encoders()[encoding]
	if !ok {
		return "", ditoxerr.New(ditoxerr.InvalidInput, "unknown image encoding: "+encoding)
	}

	encoded, err := enc.Encode(rgba, width, height)
	if err != nil {
		return "", err
	}

	sha, err := s.blobs.Put(encoded)
	if err != nil {
		return "", err
	}
	if s.budget != nil {
		if err := s.budget.Record(sha, int64(len(encoded))); err != nil {
			s.log.WithError(err).Warn("blob budget record failed")
		}
	}

	var imagePath *string
	if opts.PathMode {
		p, err := writePathModeFile(opts.Dir, sha, encoding, encoded)
		if err != nil {
			return "", err
		}
		imagePath = &p
	}

	id := ids.NewClipID()
	ts := now()

	tx, err := s.db.Begin()
	if err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Unavailable, "begin add_image", err)
	}
	defer tx.Rollback()

	lamport, err := nextLocalLamport(tx, 0)
	if err != nil {
		return "", err
	}

	_, err = tx.Exec(`
		INSERT INTO clips (id, kind, text, created_at, updated_at, lamport, device_id, is_favorite, is_image, image_path)
		VALUES (?, 'image', '', ?, ?, ?, ?, 0, 1, ?)`,
		id, ts, ts, lamport, s.deviceID, nullableString(imagePath),
	)
	if err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "insert image clip", err)
	}

	_, err = tx.Exec(`
		INSERT INTO images (clip_id, format, width, height, size_bytes, sha256)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, encoding, width, height, len(encoded), sha,
	)
	if err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "insert image metadata", err)
	}

	if err := tx.Commit(); err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "commit add_image", err)
	}

	if s.metrics != nil {
		s.metrics.CaptureAdds.WithLabelValues("image").Inc()
	}
	return id, nil
}

func nullableString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
