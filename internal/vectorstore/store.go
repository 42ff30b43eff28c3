package vectorstore

import (
	"context"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

// SearchResult is a single nearest-neighbor hit.
type SearchResult struct {
	Chunk domain.Chunk
	Score float64
}

// BatchError reports a per-item failure from UpsertBatch. Batch upserts are
// atomic per item, not across the batch.
type BatchError struct {
	Index int
	ID    string
	Err   error
}

func (e BatchError) Error() string { return e.ID + ": " + e.Err.Error() }

func (e BatchError) Unwrap() error { return e.Err }

// Store is the pluggable vector backend. A store must not accept Upsert or
// Search until Initialize has succeeded.
type Store interface {
	// Initialize creates the backing collection if absent with the store's
	// fixed dimension and cosine distance.
	Initialize(ctx context.Context) error
	// HealthCheck reports backend reachability. It never returns an error.
	HealthCheck(ctx context.Context) bool
	// Upsert writes one embedded chunk, overwriting any existing chunk with
	// the same id.
	Upsert(ctx context.Context, ec domain.EmbeddedChunk) error
	// UpsertBatch writes many chunks, reporting per-item failures. Backends
	// without native batch support loop over Upsert.
	UpsertBatch(ctx context.Context, ecs []domain.EmbeddedChunk) []BatchError
	// Search returns at most topK results with cosine similarity >= minScore,
	// sorted by descending similarity.
	Search(ctx context.Context, vector []float32, topK int, minScore float64) ([]SearchResult, error)
	// GetByID returns the chunk stored under id, or domain.ErrNotFound.
	GetByID(ctx context.Context, id string) (domain.Chunk, error)
	// Delete removes the chunk stored under id. Deleting a missing id is not
	// an error.
	Delete(ctx context.Context, id string) error
	// Count is best-effort; remote backends may be eventually consistent.
	Count(ctx context.Context) (int, error)
}

// upsertLoop is the shared fallback for backends without native batch.
func upsertLoop(ctx context.Context, s Store, ecs []domain.EmbeddedChunk) []BatchError {
	var errs []BatchError
	for i, ec := range ecs {
		if err := s.Upsert(ctx, ec); err != nil {
			errs = append(errs, BatchError{Index: i, ID: ec.Chunk.ID, Err: err})
		}
	}
	return errs
}
