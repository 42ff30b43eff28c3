package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/moyavari/ohs-copilot/internal/audit"
	"github.com/moyavari/ohs-copilot/internal/domain"
	"github.com/moyavari/ohs-copilot/internal/llm"
	"github.com/moyavari/ohs-copilot/internal/observability"
	"github.com/moyavari/ohs-copilot/internal/vectorstore"
)

// Request carries chunks produced by the external ingestion pipeline.
type Request struct {
	Chunks []domain.Chunk `json:"chunks"`
	UserID string         `json:"userId,omitempty"`
}

// Result summarizes one ingestion run.
type Result struct {
	Ingested int           `json:"ingested"`
	Skipped  int           `json:"skipped"`
	Failed   []string      `json:"failed,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Service is the core-side consumer of chunks: it deduplicates by content
// hash, embeds in batch, and upserts into the vector store.
type Service struct {
	store    vectorstore.Store
	embedder llm.Embedder
	auditLog audit.Store
}

// New builds the ingestion service.
func New(store vectorstore.Store, embedder llm.Embedder, auditLog audit.Store) *Service {
	return &Service{store: store, embedder: embedder, auditLog: auditLog}
}

// Ingest embeds and stores the request's chunks. A chunk whose id already
// holds identical content (same hash) is skipped; per-chunk upsert failures
// are collected, not fatal.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	log := observability.Logger(ctx)

	auditID := ""
	if s.auditLog != nil {
		id, err := s.auditLog.Open(ctx, domain.AuditEntry{
			Operation:     domain.OpIngest,
			UserID:        req.UserID,
			CorrelationID: observability.CorrelationID(ctx),
			Inputs:        map[string]string{"chunks": fmt.Sprintf("%d", len(req.Chunks))},
		})
		if err != nil {
			log.Warn().Err(err).Msg("audit open failed for ingest")
		} else {
			auditID = id
		}
	}

	var result Result
	var fresh []domain.Chunk
	for _, c := range req.Chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Hash == "" {
			c.Hash = domain.ContentHash(c.Text, c.Title, c.Section)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		existing, err := s.store.GetByID(ctx, c.ID)
		if err == nil && existing.Hash == c.Hash {
			result.Skipped++
			continue
		}
		fresh = append(fresh, c)
	}

	if len(fresh) > 0 {
		texts := make([]string, len(fresh))
		for i, c := range fresh {
			texts[i] = c.Text
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			s.closeAudit(ctx, auditID, result, start, err)
			return result, fmt.Errorf("ingest: embed batch: %w", err)
		}
		ecs := make([]domain.EmbeddedChunk, len(fresh))
		for i, c := range fresh {
			ecs[i] = domain.EmbeddedChunk{Chunk: c, Vector: vectors[i]}
		}
		errs := s.store.UpsertBatch(ctx, ecs)
		for _, be := range errs {
			result.Failed = append(result.Failed, be.ID)
			log.Warn().Err(be.Err).Str("chunk_id", be.ID).Msg("chunk upsert failed")
		}
		result.Ingested = len(fresh) - len(errs)
	}

	result.Duration = time.Since(start)
	s.closeAudit(ctx, auditID, result, start, nil)
	return result, nil
}

func (s *Service) closeAudit(ctx context.Context, auditID string, result Result, start time.Time, ingestErr error) {
	if s.auditLog == nil || auditID == "" {
		return
	}
	outputs := map[string]string{
		"ingested": fmt.Sprintf("%d", result.Ingested),
		"skipped":  fmt.Sprintf("%d", result.Skipped),
		"failed":   fmt.Sprintf("%d", len(result.Failed)),
	}
	if ingestErr != nil {
		outputs["error"] = ingestErr.Error()
	}
	if err := s.auditLog.AppendOutputs(ctx, auditID, outputs, nil, time.Since(start)); err != nil {
		observability.Logger(ctx).Warn().Err(err).Msg("audit outputs write failed for ingest")
	}
}
