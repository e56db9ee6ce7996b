package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ditox-dev/ditox/blobstore"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blobstore.Open(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("open blobstore: %v", err)
	}
	cfg := DefaultConfig(filepath.Join(dir, "ditox.db"))
	cfg.BlobStore = blobs
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddTextAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.AddText(ctx, "hello world", AddTextOptions{})
	if err != nil {
		t.Fatalf("add text: %v", err)
	}
	c, err := s.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Text != "hello world" || c.Kind != "text" {
		t.Fatalf("unexpected clip: %+v", c)
	}
	if c.Lamport == 0 {
		t.Fatalf("expected nonzero lamport")
	}
}

func TestAddTextRejectsEmptyByDefault(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if _, err := s.AddText(ctx, "", AddTextOptions{}); err == nil {
		t.Fatalf("expected error for empty body")
	}
	if _, err := s.AddText(ctx, "", AddTextOptions{AllowEmpty: true}); err != nil {
		t.Fatalf("expected empty body to be allowed: %v", err)
	}
}

func TestListOrdersByRecencyThenIDDescending(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.AddText(ctx, "clip", AddTextOptions{})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		ids = append(ids, id)
	}
	clips, err := s.List(ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(clips) != 3 {
		t.Fatalf("expected 3 clips, got %d", len(clips))
	}
	for i := 0; i+1 < len(clips); i++ {
		a, b := clips[i], clips[i+1]
		recA := a.CreatedAt
		if a.LastUsedAt != nil {
			recA = *a.LastUsedAt
		}
		recB := b.CreatedAt
		if b.LastUsedAt != nil {
			recB = *b.LastUsedAt
		}
		if recA < recB {
			t.Fatalf("ordering violated at %d: %+v then %+v", i, a, b)
		}
		if recA == recB && a.ID < b.ID {
			t.Fatalf("id tiebreak violated at %d: %q then %q", i, a.ID, b.ID)
		}
	}
}

func TestFavoriteSurvivesClearAll(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	favID, err := s.AddText(ctx, "keep me", AddTextOptions{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Favorite(favID, true); err != nil {
		t.Fatalf("favorite: %v", err)
	}
	if _, err := s.AddText(ctx, "discard me", AddTextOptions{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	n, err := s.ClearAll()
	if err != nil {
		t.Fatalf("clear_all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cleared, got %d", n)
	}

	clips, err := s.List(ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(clips) != 1 || clips[0].ID != favID {
		t.Fatalf("expected only the favorite to survive, got %+v", clips)
	}
}

func TestImageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	rgba := make([]byte, 2*2*4)
	for i := range rgba {
		rgba[i] = byte(i)
	}
	id, err := s.AddImage(ctx, rgba, 2, 2, AddImageOptions{})
	if err != nil {
		t.Fatalf("add image: %v", err)
	}
	c, err := s.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !c.IsImage || c.Image == nil {
		t.Fatalf("expected image metadata, got %+v", c)
	}
	if c.Image.Width != 2 || c.Image.Height != 2 || c.Image.Format != "png" {
		t.Fatalf("unexpected image metadata: %+v", c.Image)
	}
}

func TestAddImageRecordsBlobBudget(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blobs, err := blobstore.Open(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("open blobstore: %v", err)
	}
	budget, err := blobstore.OpenBudget(filepath.Join(dir, "budget.bolt"))
	if err != nil {
		t.Fatalf("open budget: %v", err)
	}
	t.Cleanup(func() { budget.Close() })

	cfg := DefaultConfig(filepath.Join(dir, "ditox.db"))
	cfg.BlobStore = blobs
	cfg.Budget = budget
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	rgba := make([]byte, 4*4*4)
	if _, err := s.AddImage(ctx, rgba, 4, 4, AddImageOptions{}); err != nil {
		t.Fatalf("add image: %v", err)
	}

	check, err := s.SelfCheck()
	if err != nil {
		t.Fatalf("self check: %v", err)
	}
	if !check.BlobBudgetSet || check.BlobBudget <= 0 {
		t.Fatalf("expected nonzero tracked blob budget, got %+v", check)
	}
}

func TestSearchEmptyQueryReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if _, err := s.AddText(ctx, "anything", AddTextOptions{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	clips, err := s.Search(ctx, "", SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(clips) != 0 {
		t.Fatalf("expected empty query to return no results, got %d", len(clips))
	}
}

func TestSearchFindsSubstringMatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if _, err := s.AddText(ctx, "the quick brown fox", AddTextOptions{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddText(ctx, "lazy dog", AddTextOptions{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	clips, err := s.Search(ctx, "quick", SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(clips) != 1 || clips[0].Text != "the quick brown fox" {
		t.Fatalf("unexpected search results: %+v", clips)
	}
}

func TestSearchRankOrdersByRelevanceOverRecency(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if !s.FTSAvailable() {
		t.Skip("FTS5 unavailable in this sqlite build; rank has no effect without it")
	}

	// strong is added first (so it is the less-recent clip) and weak
	// second (more recent); plain recency ordering would rank weak
	// first, but BM25 relevance should rank the denser match first
	// despite it being older.
	strong, err := s.AddText(ctx, "fox fox fox fox", AddTextOptions{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddText(ctx, "fox sighting near the park", AddTextOptions{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	clips, err := s.Search(ctx, "fox", SearchOptions{Rank: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(clips) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(clips))
	}
	if clips[0].ID != strong {
		t.Fatalf("expected denser match %q ranked first, got %+v", strong, clips)
	}
}

func TestSearchTagFilter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.AddText(ctx, "tagged clip", AddTextOptions{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.SetTags(id, []string{"work", "urgent"}); err != nil {
		t.Fatalf("set tags: %v", err)
	}
	if _, err := s.AddText(ctx, "untagged clip", AddTextOptions{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	clips, err := s.Search(ctx, "tag:work", SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(clips) != 1 || clips[0].ID != id {
		t.Fatalf("unexpected tag search results: %+v", clips)
	}

	tags, err := s.GetTags(id)
	if err != nil {
		t.Fatalf("get tags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", tags)
	}
}

func TestDeleteTombstonesAndExcludesFromList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.AddText(ctx, "to delete", AddTextOptions{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	clips, err := s.List(ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(clips) != 0 {
		t.Fatalf("expected deleted clip excluded from list, got %+v", clips)
	}
	c, err := s.Get(id)
	if err != nil {
		t.Fatalf("expected tombstoned row to remain directly gettable: %v", err)
	}
	if c.DeletedAt == nil {
		t.Fatalf("expected deleted_at to be set")
	}
}

func TestPruneKeepsMostRecentWithinMaxItems(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	var lastID string
	for i := 0; i < 5; i++ {
		id, err := s.AddText(ctx, "clip", AddTextOptions{})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		lastID = id
	}
	keep := 2
	n, err := s.Prune(ctx, PruneOptions{MaxItems: &keep})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 pruned, got %d", n)
	}
	clips, err := s.List(ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(clips) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(clips))
	}
	found := false
	for _, c := range clips {
		if c.ID == lastID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected most recent clip to survive prune")
	}
}

func TestPruneWithZeroMaxItemsRetainsOnlyFavorites(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	favID, err := s.AddText(ctx, "keep me", AddTextOptions{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Favorite(favID, true); err != nil {
		t.Fatalf("favorite: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.AddText(ctx, "drop me", AddTextOptions{}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	zero := 0
	n, err := s.Prune(ctx, PruneOptions{KeepFavorites: true, MaxItems: &zero})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 pruned, got %d", n)
	}

	clips, err := s.List(ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(clips) != 1 || clips[0].ID != favID {
		t.Fatalf("expected only the favorite to survive, got %+v", clips)
	}
}

func TestLamportAdvancesOnEachMutation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.AddText(ctx, "clip", AddTextOptions{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	c1, err := s.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := s.Favorite(id, true); err != nil {
		t.Fatalf("favorite: %v", err)
	}
	c2, err := s.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c2.Lamport <= c1.Lamport {
		t.Fatalf("expected lamport to advance: %d -> %d", c1.Lamport, c2.Lamport)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)
	id, err := src.AddText(ctx, "roundtrip me", AddTextOptions{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := src.SetTags(id, []string{"a", "b"}); err != nil {
		t.Fatalf("set tags: %v", err)
	}

	exportDir := filepath.Join(src.Path()+"-export")
	n, err := src.Export(ctx, exportDir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 exported record, got %d", n)
	}

	dst := openTestStore(t)
	m, err := dst.Import(ctx, exportDir, ImportOptions{KeepIDs: true})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if m != 1 {
		t.Fatalf("expected 1 imported record, got %d", m)
	}
	c, err := dst.Get(id)
	if err != nil {
		t.Fatalf("get imported clip: %v", err)
	}
	if c.Text != "roundtrip me" {
		t.Fatalf("unexpected imported text: %q", c.Text)
	}
	tags, err := dst.GetTags(id)
	if err != nil {
		t.Fatalf("get imported tags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 imported tags, got %v", tags)
	}
}
