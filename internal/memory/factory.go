package memory

import (
	"context"
	"fmt"

	"github.com/moyavari/ohs-copilot/internal/config"
)

// New resolves the configured memory backend.
func New(ctx context.Context, cfg config.MemoryConfig, pgConnStr, redisAddr string) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.MaxTurns), nil
	case "postgres", "pg":
		if pgConnStr == "" {
			return nil, fmt.Errorf("postgres memory backend requires PG_CONN_STR")
		}
		return NewPostgresStore(ctx, pgConnStr, cfg.MaxTurns)
	case "redis":
		if redisAddr == "" {
			return nil, fmt.Errorf("redis memory backend requires REDIS_ADDR")
		}
		return NewRedisStore(redisAddr, cfg.MaxTurns), nil
	default:
		return nil, fmt.Errorf("unsupported memory backend: %s", cfg.Backend)
	}
}
