package store

import (
	"context"
	"strings"

	"github.com/ditox-dev/ditox/ditoxerr"
	"github.com/ditox-dev/ditox/telemetry"
)

// SearchOptions paginates and orders Search. The query string itself is
// parsed by parseQuery into a free-text component (matched against
// clips_fts, or substring-matched when FTS5 is unavailable) and a set of
// structural filters extracted from tag: and is: tokens.
type SearchOptions struct {
	Limit  int
	Offset int
	// Rank orders FTS results by BM25 relevance (ascending, lower is more
	// relevant) with recency as a tiebreaker, instead of recency alone.
	// Ignored when FTS5 is unavailable, since the substring fallback has
	// no relevance score to rank by.
	Rank bool
}

type parsedQuery struct {
	terms     []string // bare words and *-prefixed words
	phrases   []string // quoted phrases
	tag       string
	isImage   bool
	isFav     bool
	hasText   bool // whether any free-text component remains
}

// parseQuery tokenizes a raw search string into free-text terms/phrases
// and tag:/is: structural filters. Quoted phrases are kept intact;
// AND/OR are accepted as no-op separators (FTS5 treats bare juxtaposition
// as implicit AND already, and the substring fallback ANDs all terms
// regardless).
func parseQuery(raw string) (parsedQuery, error) {
	var pq parsedQuery
	var buf strings.Builder
	inQuote := false

	flush := func() {
		t := buf.String()
		buf.Reset()
		if t == "" {
			return
		}
		switch {
		case strings.EqualFold(t, "AND") || strings.EqualFold(t, "OR"):
			return
		case strings.HasPrefix(t, "tag:"):
			pq.tag = strings.TrimPrefix(t, "tag:")
		case strings.EqualFold(t, "is:image"):
			pq.isImage = true
		case strings.EqualFold(t, "is:fav"), strings.EqualFold(t, "is:favorite"):
			pq.isFav = true
		default:
			pq.terms = append(pq.terms, t)
			pq.hasText = true
		}
	}

	for _, r := range raw {
		switch {
		case r == '"':
			if inQuote {
				phrase := buf.String()
				buf.Reset()
				if phrase != "" {
					pq.phrases = append(pq.phrases, phrase)
					pq.hasText = true
				}
				inQuote = false
			} else {
				flush()
				inQuote = true
			}
		case r == ' ' && !inQuote:
			flush()
		default:
			buf.WriteRune(r)
		}
	}
	if inQuote {
		return parsedQuery{}, ditoxerr.New(ditoxerr.InvalidInput, "unterminated quote in search query")
	}
	flush()
	return pq, nil
}

func (pq parsedQuery) ftsMatch() string {
	var parts []string
	for _, t := range pq.terms {
		parts = append(parts, t)
	}
	for _, p := range pq.phrases {
		parts = append(parts, `"`+strings.ReplaceAll(p, `"`, `""`)+`"`)
	}
	return strings.Join(parts, " ")
}

// Search returns clips matching query, most recent first (or by BM25
// relevance when opts.Rank is set and FTS5 is available), falling back
// to substring matching when FTS5 is unavailable. An empty query with no
// structural filters returns an empty result set; it is not
// list-equivalent.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]Clip, error) {
	_, end := telemetry.StartSpan(ctx, "store.Search")
	defer end()
	timer := telemetry.Start("store.Search", s.log)
	defer timer.Stop()

	pq, err := parseQuery(query)
	if err != nil {
		return nil, err
	}
	if !pq.hasText && pq.tag == "" && !pq.isImage && !pq.isFav {
		return nil, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	where := []string{"c.deleted_at IS NULL"}
	var args []any
	join := ""
	if pq.tag != "" {
		join = `JOIN clip_tags ct ON ct.clip_id = c.id JOIN tags t ON t.id = ct.tag_id`
		where = append(where, "t.name = ?")
		args = append(args, pq.tag)
	}
	if pq.isImage {
		where = append(where, "c.is_image = 1")
	}
	if pq.isFav {
		where = append(where, "c.is_favorite = 1")
	}

	if !pq.hasText {
		return s.filteredList(join, where, args, limit, opts.Offset)
	}
	if s.ftsAvail {
		return s.searchFTS(pq, join, where, args, limit, opts.Offset, opts.Rank)
	}
	return s.searchSubstring(pq, join, where, args, limit, opts.Offset)
}

func (s *Store) filteredList(join string, where []string, args []any, limit, offset int) ([]Clip, error) {
	query := "SELECT " + clipColumns + " FROM clips c " + join +
		" WHERE " + strings.Join(where, " AND ") +
		" ORDER BY COALESCE(c.last_used_at, c.created_at) DESC, c.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	return s.queryClips(query, args)
}

func (s *Store) searchFTS(pq parsedQuery, join string, where []string, args []any, limit, offset int, rank bool) ([]Clip, error) {
	ftsJoin := join + " JOIN clips_fts ON clips_fts.rowid = c.rowid"
	where = append(where, "clips_fts MATCH ?")
	args = append(args, pq.ftsMatch())

	order := "ORDER BY COALESCE(c.last_used_at, c.created_at) DESC, c.id DESC"
	if rank {
		order = "ORDER BY bm25(clips_fts) ASC, COALESCE(c.last_used_at, c.created_at) DESC"
	}

	query := "SELECT " + clipColumns + ` FROM clips c ` + ftsJoin +
		" WHERE " + strings.Join(where, " AND ") + " " + order + " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	clips, err := s.queryClips(query, args)
	if err != nil {
		return s.searchSubstring(pq, join, where[:len(where)-1], args[:len(args)-3], limit, offset)
	}
	return clips, nil
}

func (s *Store) searchSubstring(pq parsedQuery, join string, where []string, args []any, limit, offset int) ([]Clip, error) {
	for _, t := range pq.terms {
		t = strings.TrimSuffix(t, "*")
		where = append(where, "c.text LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(t)+"%")
	}
	for _, p := range pq.phrases {
		where = append(where, "c.text LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(p)+"%")
	}
	query := "SELECT " + clipColumns + " FROM clips c " + join +
		" WHERE " + strings.Join(where, " AND ") +
		" ORDER BY COALESCE(c.last_used_at, c.created_at) DESC, c.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	return s.queryClips(query, args)
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

func (s *Store) queryClips(query string, args []any) ([]Clip, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "search clips", err)
	}
	defer rows.Close()

	var out []Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.Fatal, "scan searched clip", err)
		}
		if err := s.attachImageMeta(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
