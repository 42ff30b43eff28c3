package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moyavari/ohs-copilot/internal/agent"
	"github.com/moyavari/ohs-copilot/internal/audit"
	"github.com/moyavari/ohs-copilot/internal/config"
	"github.com/moyavari/ohs-copilot/internal/eval"
	"github.com/moyavari/ohs-copilot/internal/fixtures"
	"github.com/moyavari/ohs-copilot/internal/governance"
	"github.com/moyavari/ohs-copilot/internal/ingest"
	"github.com/moyavari/ohs-copilot/internal/llm"
	"github.com/moyavari/ohs-copilot/internal/memory"
	"github.com/moyavari/ohs-copilot/internal/observability"
	"github.com/moyavari/ohs-copilot/internal/orchestrator"
	"github.com/moyavari/ohs-copilot/internal/server"
	"github.com/moyavari/ohs-copilot/internal/vectorstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := vectorstore.New(ctx, cfg.VectorStore)
	if err != nil {
		log.Fatal().Err(err).Msg("build vector store")
	}
	if err := store.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("initialize vector store")
	}
	defer closeQuietly(store)

	mem, err := memory.New(ctx, cfg.Memory, cfg.VectorStore.PGConnStr, cfg.VectorStore.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("build memory store")
	}
	defer closeQuietly(mem)

	var auditLog audit.Store
	if cfg.Memory.Backend == "postgres" && cfg.VectorStore.PGConnStr != "" {
		auditLog, err = audit.NewPostgresStore(ctx, cfg.VectorStore.PGConnStr)
		if err != nil {
			log.Fatal().Err(err).Msg("build audit store")
		}
	} else {
		auditLog = audit.NewMemoryStore()
	}
	defer closeQuietly(auditLog)

	client, embedder, err := llm.New(cfg.LLM, cfg.VectorStore.Dimensions)
	if err != nil {
		log.Fatal().Err(err).Msg("build llm clients")
	}

	var moderator governance.Moderator
	if cfg.Moderation.Endpoint != "" {
		moderator = governance.NewContentSafetyModerator(cfg.Moderation.Endpoint, cfg.Moderation.APIKey, cfg.Moderation.Threshold)
	} else {
		moderator = governance.NewLocalModerator(cfg.Moderation.Threshold)
	}

	fx, err := fixtures.Load(cfg.FixturesPath, cfg.TracePath)
	if err != nil {
		log.Fatal().Err(err).Msg("load fixtures")
	}

	registry := governance.NewPromptRegistry()
	orch := orchestrator.New(orchestrator.Deps{
		Router:      agent.NewRouter(mem),
		Retriever:   agent.NewRetriever(store, embedder, cfg.VectorSearchTopK, cfg.MaxTokensPerRequest),
		Drafter:     agent.NewDrafter(client, registry),
		CiteChecker: agent.NewCiteChecker(),
		Moderator:   moderator,
		Redactor:    governance.NewRedactor(),
		Registry:    registry,
		AuditLog:    auditLog,
		Memory:      mem,
		Fixtures:    fx,
		Model:       client,
	}, orchestrator.Options{
		DemoMode:         cfg.DemoMode,
		RedactionEnabled: cfg.RedactionEnabled,
		StageTimeout:     time.Duration(cfg.StageTimeoutSeconds) * time.Second,
		RequestTimeout:   time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	})

	go runCleanup(ctx, cfg, mem, auditLog)

	srv := server.New(cfg, server.Deps{
		Orchestrator: orch,
		Ingestor:     ingest.New(store, embedder, auditLog),
		Harness:      eval.New(orch),
		Vector:       store,
		Memory:       mem,
		AuditLog:     auditLog,
		Registry:     registry,
		Embedder:     embedder,
	})
	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
}

// runCleanup periodically trims expired conversations and audit entries.
func runCleanup(ctx context.Context, cfg *config.Config, mem memory.Store, auditLog audit.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ttl := time.Duration(cfg.Memory.TTLHours) * time.Hour
			if n, err := mem.CleanupExpired(ctx, ttl); err != nil {
				log.Warn().Err(err).Msg("memory cleanup failed")
			} else if n > 0 {
				log.Info().Int("removed", n).Msg("expired conversations removed")
			}
			retention := time.Duration(cfg.AuditRetentionDays) * 24 * time.Hour
			if n, err := auditLog.CleanupOlderThan(ctx, retention); err != nil {
				log.Warn().Err(err).Msg("audit cleanup failed")
			} else if n > 0 {
				log.Info().Int("removed", n).Msg("expired audit entries removed")
			}
		}
	}
}

func closeQuietly(v any) {
	switch c := v.(type) {
	case interface{ Close() error }:
		_ = c.Close()
	case interface{ Close() }:
		c.Close()
	}
}
