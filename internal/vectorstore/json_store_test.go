package vectorstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

func newTestStore(t *testing.T, dim int) Store {
	t.Helper()
	s := NewJSONStore(filepath.Join(t.TempDir(), "vectors.json"), dim)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s
}

func embedded(id, text, title string, vec []float32) domain.EmbeddedChunk {
	return domain.EmbeddedChunk{Chunk: domain.NewChunk(id, text, title, "General", "test.md"), Vector: vec}
}

func TestJSONStoreRejectsBeforeInit(t *testing.T) {
	s := NewJSONStore(filepath.Join(t.TempDir(), "v.json"), 3)
	ctx := context.Background()
	if err := s.Upsert(ctx, embedded("a", "text", "Title", []float32{1, 0, 0})); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("Upsert before init: %v", err)
	}
	if _, err := s.Search(ctx, []float32{1, 0, 0}, 5, 0); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("Search before init: %v", err)
	}
}

func TestJSONStoreUpsertSearchRoundTrip(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()
	if err := s.Upsert(ctx, embedded("only", "lockout tagout", "LOTO", []float32{0.2, 0.9, 0.1})); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	results, err := s.Search(ctx, []float32{0.2, 0.9, 0.1}, 1, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "only" {
		t.Fatalf("single-chunk store should return itself, got %#v", results)
	}
}

func TestJSONStoreOverwriteOnSameID(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()
	if err := s.Upsert(ctx, embedded("a", "old text", "Old", []float32{1, 0})); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, embedded("a", "new text", "New", []float32{0, 1})); err != nil {
		t.Fatal(err)
	}
	n, _ := s.Count(ctx)
	if n != 1 {
		t.Fatalf("count after overwrite = %d, want 1", n)
	}
	c, err := s.GetByID(ctx, "a")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if c.Text != "new text" {
		t.Fatalf("overwrite lost: %q", c.Text)
	}
}

func TestJSONStoreSearchOrderingAndLimits(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()
	chunks := []domain.EmbeddedChunk{
		embedded("exact", "a", "A", []float32{1, 0}),
		embedded("close", "b", "B", []float32{0.9, 0.1}),
		embedded("far", "c", "C", []float32{0, 1}),
	}
	if errs := s.UpsertBatch(ctx, chunks); len(errs) != 0 {
		t.Fatalf("UpsertBatch errors: %v", errs)
	}
	results, err := s.Search(ctx, []float32{1, 0}, 2, 0.1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("topK not respected, got %d results", len(results))
	}
	if results[0].Chunk.ID != "exact" || results[1].Chunk.ID != "close" {
		t.Fatalf("wrong order: %s, %s", results[0].Chunk.ID, results[1].Chunk.ID)
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("scores not descending: %v < %v", results[0].Score, results[1].Score)
	}
	// "far" is orthogonal, so minScore filters it even with a big topK
	results, _ = s.Search(ctx, []float32{1, 0}, 10, 0.5)
	for _, r := range results {
		if r.Chunk.ID == "far" {
			t.Fatal("minScore not applied")
		}
	}
}

func TestJSONStoreDimensionMismatch(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()
	if err := s.Upsert(ctx, embedded("a", "t", "T", []float32{1, 0})); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("Upsert wrong dim: %v", err)
	}
	if _, err := s.Search(ctx, []float32{1, 0}, 5, 0); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("Search wrong dim: %v", err)
	}
}

func TestJSONStoreBatchPartialFailure(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()
	errs := s.UpsertBatch(ctx, []domain.EmbeddedChunk{
		embedded("good", "t", "T", []float32{1, 0}),
		embedded("bad", "t", "T", []float32{1, 0, 0}),
		embedded("good2", "t", "T", []float32{0, 1}),
	})
	if len(errs) != 1 || errs[0].ID != "bad" {
		t.Fatalf("expected one batch error for 'bad', got %v", errs)
	}
	n, _ := s.Count(ctx)
	if n != 2 {
		t.Fatalf("partial batch should keep good items, count = %d", n)
	}
}

func TestJSONStoreDeleteAndMissing(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()
	if err := s.Upsert(ctx, embedded("a", "t", "T", []float32{1, 0})); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetByID(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByID after delete: %v", err)
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("deleting a missing id should be a no-op: %v", err)
	}
}

func TestJSONStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.json")
	ctx := context.Background()
	s := NewJSONStore(path, 2)
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, embedded("persisted", "survives restart", "P", []float32{1, 0})); err != nil {
		t.Fatal(err)
	}
	reopened := NewJSONStore(path, 2)
	if err := reopened.Initialize(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	c, err := reopened.GetByID(ctx, "persisted")
	if err != nil {
		t.Fatalf("GetByID after reopen: %v", err)
	}
	if c.Text != "survives restart" {
		t.Fatalf("persistence lost: %q", c.Text)
	}
}

func TestChunkHashDeterminism(t *testing.T) {
	a := domain.NewChunk("x", "text", "title", "section", "p")
	b := domain.NewChunk("y", "text", "title", "section", "q")
	if a.Hash != b.Hash {
		t.Fatal("hash should depend only on text+title+section")
	}
	c := domain.NewChunk("z", "text2", "title", "section", "p")
	if a.Hash == c.Hash {
		t.Fatal("different text should change hash")
	}
}
