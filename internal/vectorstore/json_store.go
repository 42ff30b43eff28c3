package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

// jsonStore keeps chunks in memory guarded by a RWMutex and persists the full
// map to a JSON file on every write. Suited for demos and small corpora.
type jsonStore struct {
	mu          sync.RWMutex
	path        string
	dimension   int
	initialized bool
	chunks      map[string]domain.EmbeddedChunk
}

// NewJSONStore builds a file-backed in-memory store. The file is created on
// Initialize if absent.
func NewJSONStore(path string, dimension int) Store {
	return &jsonStore{path: path, dimension: dimension, chunks: make(map[string]domain.EmbeddedChunk)}
}

func (s *jsonStore) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read vector file: %w", err)
		}
	} else if len(data) > 0 {
		var stored []domain.EmbeddedChunk
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("parse vector file %s: %w", s.path, err)
		}
		for _, ec := range stored {
			s.chunks[ec.Chunk.ID] = ec
		}
	}
	s.initialized = true
	return nil
}

func (s *jsonStore) HealthCheck(_ context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

func (s *jsonStore) Upsert(_ context.Context, ec domain.EmbeddedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return domain.ErrNotInitialized
	}
	if len(ec.Vector) != s.dimension {
		return fmt.Errorf("%w: got %d, store expects %d", domain.ErrDimensionMismatch, len(ec.Vector), s.dimension)
	}
	cp := ec
	cp.Vector = append([]float32(nil), ec.Vector...)
	s.chunks[ec.Chunk.ID] = cp
	return s.persistLocked()
}

func (s *jsonStore) UpsertBatch(ctx context.Context, ecs []domain.EmbeddedChunk) []BatchError {
	return upsertLoop(ctx, s, ecs)
}

func (s *jsonStore) Search(_ context.Context, vector []float32, topK int, minScore float64) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, domain.ErrNotInitialized
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, store expects %d", domain.ErrDimensionMismatch, len(vector), s.dimension)
	}
	if topK <= 0 {
		topK = 10
	}
	qnorm := Norm(vector)
	results := make([]SearchResult, 0, len(s.chunks))
	for _, ec := range s.chunks {
		score := cosineWithNorm(vector, ec.Vector, qnorm)
		if score < minScore {
			continue
		}
		results = append(results, SearchResult{Chunk: ec.Chunk, Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *jsonStore) GetByID(_ context.Context, id string) (domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ec, ok := s.chunks[id]
	if !ok {
		return domain.Chunk{}, domain.ErrNotFound
	}
	return ec.Chunk, nil
}

func (s *jsonStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[id]; !ok {
		return nil
	}
	delete(s.chunks, id)
	return s.persistLocked()
}

func (s *jsonStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// persistLocked writes the full chunk map to disk. Callers hold the write
// lock.
func (s *jsonStore) persistLocked() error {
	stored := make([]domain.EmbeddedChunk, 0, len(s.chunks))
	for _, ec := range s.chunks {
		stored = append(stored, ec)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Chunk.ID < stored[j].Chunk.ID })
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode vector file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write vector file: %w", err)
	}
	return os.Rename(tmp, s.path)
}
