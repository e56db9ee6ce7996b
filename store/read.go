package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ditox-dev/ditox/ditoxerr"
)

const clipColumns = `c.id, c.kind, c.text, c.created_at, c.is_favorite, c.deleted_at,
	c.is_image, c.image_path, c.last_used_at, c.updated_at, c.lamport, c.device_id`

func scanClip(row interface{ Scan(...any) error }) (Clip, error) {
	var c Clip
	var deletedAt, lastUsedAt, updatedAt sql.NullInt64
	var imagePath sql.NullString
	var isFav, isImage int
	if err := row.Scan(
		&c.ID, &c.Kind, &c.Text, &c.CreatedAt, &isFav, &deletedAt,
		&isImage, &imagePath, &lastUsedAt, &updatedAt, &c.Lamport, &c.DeviceID,
	); err != nil {
		return Clip{}, err
	}
	c.IsFavorite = isFav != 0
	c.IsImage = isImage != 0
	if deletedAt.Valid {
		v := deletedAt.Int64
		c.DeletedAt = &v
	}
	if lastUsedAt.Valid {
		v := lastUsedAt.Int64
		c.LastUsedAt = &v
	}
	if updatedAt.Valid {
		v := updatedAt.Int64
		c.UpdatedAt = &v
	}
	if imagePath.Valid {
		v := imagePath.String
		c.ImagePath = &v
	}
	return c, nil
}

func (s *Store) attachImageMeta(c *Clip) error {
	if !c.IsImage {
		return nil
	}
	var m ImageMeta
	var thumb sql.NullString
	err := s.db.QueryRow(`
		SELECT clip_id, format, width, height, size_bytes, sha256, thumb_path
		FROM images WHERE clip_id = ?`, c.ID,
	).Scan(&m.ClipID, &m.Format, &m.Width, &m.Height, &m.SizeBytes, &m.SHA256, &thumb)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "load image metadata", err)
	}
	if thumb.Valid {
		v := thumb.String
		m.ThumbPath = &v
	}
	c.Image = &m
	return nil
}

// Get retrieves a clip by id, including image metadata if present.
func (s *Store) Get(id string) (Clip, error) {
	row := s.db.QueryRow(`SELECT `+clipColumns+` FROM clips c WHERE c.id = ?`, id)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return Clip{}, ditoxerr.New(ditoxerr.NotFound, "clip not found")
	}
	if err != nil {
		return Clip{}, ditoxerr.Wrap(ditoxerr.Fatal, "get clip", err)
	}
	if err := s.attachImageMeta(&c); err != nil {
		return Clip{}, err
	}
	return c, nil
}

// ListOptions filters and paginates List.
type ListOptions struct {
	Favorites bool
	HasFav    bool // set when Favorites should be applied as a filter
	Images    bool
	HasImages bool
	Tag       string
	Limit     int
	Offset    int
}

// List returns clips ordered by recency, most recent first, excluding
// tombstones.
func (s *Store) List(opts ListOptions) ([]Clip, error) {
	where := []string{"c.deleted_at IS NULL"}
	var args []any

	if opts.HasFav {
		where = append(where, "c.is_favorite = ?")
		args = append(args, boolToInt(opts.Favorites))
	}
	if opts.HasImages {
		where = append(where, "c.is_image = ?")
		args = append(args, boolToInt(opts.Images))
	}
	join := ""
	if opts.Tag != "" {
		join = `JOIN clip_tags ct ON ct.clip_id = c.id JOIN tags t ON t.id = ct.tag_id`
		where = append(where, "t.name = ?")
		args = append(args, opts.Tag)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s FROM clips c %s
		WHERE %s
		ORDER BY COALESCE(c.last_used_at, c.created_at) DESC, c.id DESC
		LIMIT ? OFFSET ?`,
		clipColumns, join, strings.Join(where, " AND "),
	)
	args = append(args, limit, opts.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "list clips", err)
	}
	defer rows.Close()

	var out []Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.Fatal, "scan listed clip", err)
		}
		if err := s.attachImageMeta(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "iterate listed clips", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
