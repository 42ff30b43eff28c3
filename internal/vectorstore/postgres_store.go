package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

// pgStore keeps chunks in a single pgvector-backed table. Ranking uses the
// cosine distance operator; an IVFFlat index is declared at init so the
// planner can use it once the table grows.
type pgStore struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPostgresStore connects a pgxpool to the given DSN.
func NewPostgresStore(ctx context.Context, connStr string, dimension int) (Store, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &pgStore{pool: pool, dimension: dimension}, nil
}

func (p *pgStore) Initialize(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS chunks (
  id TEXT PRIMARY KEY,
  text TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  section TEXT NOT NULL DEFAULT '',
  source_path TEXT NOT NULL DEFAULT '',
  hash TEXT NOT NULL,
  embedding vector(%d),
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
`, p.dimension))
	if err != nil {
		return fmt.Errorf("create chunks table: %w", err)
	}
	_, _ = p.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_hash_idx ON chunks (hash)`)
	_, _ = p.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_source_idx ON chunks (source_path)`)
	_, _ = p.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING ivfflat (embedding vector_cosine_ops)`)
	return nil
}

func (p *pgStore) HealthCheck(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.pool.Ping(hctx) == nil
}

func (p *pgStore) Upsert(ctx context.Context, ec domain.EmbeddedChunk) error {
	if len(ec.Vector) != p.dimension {
		return fmt.Errorf("%w: got %d, store expects %d", domain.ErrDimensionMismatch, len(ec.Vector), p.dimension)
	}
	md := ec.Chunk.Metadata
	if md == nil {
		md = map[string]string{}
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO chunks(id, text, title, section, source_path, hash, embedding, created_at, metadata)
VALUES($1, $2, $3, $4, $5, $6, $7::vector, $8, $9)
ON CONFLICT (id) DO UPDATE SET
  text=EXCLUDED.text, title=EXCLUDED.title, section=EXCLUDED.section,
  source_path=EXCLUDED.source_path, hash=EXCLUDED.hash,
  embedding=EXCLUDED.embedding, metadata=EXCLUDED.metadata
`, ec.Chunk.ID, ec.Chunk.Text, ec.Chunk.Title, ec.Chunk.Section, ec.Chunk.SourcePath,
		ec.Chunk.Hash, toVectorLiteral(ec.Vector), ec.Chunk.CreatedAt, md)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (p *pgStore) UpsertBatch(ctx context.Context, ecs []domain.EmbeddedChunk) []BatchError {
	return upsertLoop(ctx, p, ecs)
}

func (p *pgStore) Search(ctx context.Context, vector []float32, topK int, minScore float64) ([]SearchResult, error) {
	if len(vector) != p.dimension {
		return nil, fmt.Errorf("%w: got %d, store expects %d", domain.ErrDimensionMismatch, len(vector), p.dimension)
	}
	if topK <= 0 {
		topK = 10
	}
	vecLit := toVectorLiteral(vector)
	rows, err := p.pool.Query(ctx, `
SELECT id, text, title, section, source_path, hash, created_at, metadata,
       1 - (embedding <=> $1::vector) AS score
FROM chunks
WHERE 1 - (embedding <=> $1::vector) >= $3
ORDER BY embedding <=> $1::vector
LIMIT $2
`, vecLit, topK, minScore)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	out := make([]SearchResult, 0, topK)
	for rows.Next() {
		var r SearchResult
		var md map[string]string
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.Text, &r.Chunk.Title, &r.Chunk.Section,
			&r.Chunk.SourcePath, &r.Chunk.Hash, &r.Chunk.CreatedAt, &md, &r.Score); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		if len(md) > 0 {
			r.Chunk.Metadata = md
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *pgStore) GetByID(ctx context.Context, id string) (domain.Chunk, error) {
	var c domain.Chunk
	var md map[string]string
	err := p.pool.QueryRow(ctx, `
SELECT id, text, title, section, source_path, hash, created_at, metadata
FROM chunks WHERE id=$1
`, id).Scan(&c.ID, &c.Text, &c.Title, &c.Section, &c.SourcePath, &c.Hash, &c.CreatedAt, &md)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Chunk{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if len(md) > 0 {
		c.Metadata = md
	}
	return c, nil
}

func (p *pgStore) Delete(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE id=$1`, id); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (p *pgStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return n, nil
}

func (p *pgStore) Close() { p.pool.Close() }

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	b := strings.Builder{}
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fmt.Sprintf("%g", x))
	}
	b.WriteByte(']')
	return b.String()
}
