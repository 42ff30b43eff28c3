package vectorstore

import (
	"context"
	"fmt"

	"github.com/moyavari/ohs-copilot/internal/config"
)

// New resolves the configured vector backend. The returned store still needs
// Initialize before first use.
func New(ctx context.Context, cfg config.VectorStoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "json":
		return NewJSONStore(cfg.DataPath, cfg.Dimensions), nil
	case "qdrant":
		if cfg.QdrantDSN == "" {
			return nil, fmt.Errorf("qdrant backend requires QDRANT_ENDPOINT")
		}
		return NewQdrantStore(cfg.QdrantDSN, cfg.Collection, cfg.Dimensions)
	case "postgres", "pg":
		if cfg.PGConnStr == "" {
			return nil, fmt.Errorf("postgres backend requires PG_CONN_STR")
		}
		return NewPostgresStore(ctx, cfg.PGConnStr, cfg.Dimensions)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires REDIS_ADDR")
		}
		return NewRedisStore(cfg.RedisAddr, cfg.Collection, cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported vector store backend: %s", cfg.Backend)
	}
}
