package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

// redisStore is the document-DB adapter: each embedded chunk is one JSON
// document under a keyed namespace, and search is an in-process full scan
// over all documents. Acceptable up to tens of thousands of chunks.
type redisStore struct {
	client     *redis.Client
	collection string
	dimension  int
}

// NewRedisStore connects a go-redis client to the given address.
func NewRedisStore(addr, collection string, dimension int) Store {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &redisStore{client: client, collection: collection, dimension: dimension}
}

func (r *redisStore) key(id string) string { return r.collection + ":chunk:" + id }

func (r *redisStore) idsKey() string { return r.collection + ":ids" }

func (r *redisStore) Initialize(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (r *redisStore) HealthCheck(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.client.Ping(hctx).Err() == nil
}

func (r *redisStore) Upsert(ctx context.Context, ec domain.EmbeddedChunk) error {
	if len(ec.Vector) != r.dimension {
		return fmt.Errorf("%w: got %d, store expects %d", domain.ErrDimensionMismatch, len(ec.Vector), r.dimension)
	}
	data, err := json.Marshal(ec)
	if err != nil {
		return fmt.Errorf("encode chunk %s: %w", ec.Chunk.ID, err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(ec.Chunk.ID), data, 0)
	pipe.SAdd(ctx, r.idsKey(), ec.Chunk.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *redisStore) UpsertBatch(ctx context.Context, ecs []domain.EmbeddedChunk) []BatchError {
	return upsertLoop(ctx, r, ecs)
}

func (r *redisStore) Search(ctx context.Context, vector []float32, topK int, minScore float64) ([]SearchResult, error) {
	if len(vector) != r.dimension {
		return nil, fmt.Errorf("%w: got %d, store expects %d", domain.ErrDimensionMismatch, len(vector), r.dimension)
	}
	if topK <= 0 {
		topK = 10
	}
	ids, err := r.client.SMembers(ctx, r.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	qnorm := Norm(vector)
	results := make([]SearchResult, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.key(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		var ec domain.EmbeddedChunk
		if err := json.Unmarshal(data, &ec); err != nil {
			continue
		}
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

func (r *redisStore) GetByID(ctx context.Context, id string) (domain.Chunk, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Chunk{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	var ec domain.EmbeddedChunk
	if err := json.Unmarshal(data, &ec); err != nil {
		return domain.Chunk{}, fmt.Errorf("decode chunk %s: %w", id, err)
	}
	return ec.Chunk, nil
}

func (r *redisStore) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(id))
	pipe.SRem(ctx, r.idsKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *redisStore) Count(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.idsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return int(n), nil
}

func (r *redisStore) Close() error { return r.client.Close() }
