package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore builds the postgres audit backend. Entries are stored as
// one JSONB document per audit id with a (user_id, timestamp) index for
// QueryByUser.
func NewPostgresStore(ctx context.Context, connStr string) (Store, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	cfg.MaxConns = 8
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &pgStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *pgStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS audit_entries (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  entry JSONB NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("migrate audit table: %w", err)
	}
	_, _ = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS audit_user_ts_idx ON audit_entries (user_id, created_at)`)
	return nil
}

func (s *pgStore) Open(ctx context.Context, entry domain.AuditEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.PromptHash == "" {
		entry.PromptHash = PromptHashPending
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode audit entry: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO audit_entries (id, user_id, created_at, entry) VALUES ($1, $2, $3, $4)
`, entry.ID, entry.UserID, entry.Timestamp, data)
	if err != nil {
		return "", fmt.Errorf("open audit entry: %w", err)
	}
	return entry.ID, nil
}

// mutate loads, updates and rewrites one entry inside a transaction with a
// row lock, preserving append-only semantics under concurrent writers.
func (s *pgStore) mutate(ctx context.Context, id string, update func(*domain.AuditEntry)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin audit update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var data []byte
	err = tx.QueryRow(ctx, `SELECT entry FROM audit_entries WHERE id=$1 FOR UPDATE`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock audit entry: %w", err)
	}
	var entry domain.AuditEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return fmt.Errorf("decode audit entry: %w", err)
	}
	update(&entry)
	updated, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE audit_entries SET entry=$2 WHERE id=$1`, id, updated); err != nil {
		return fmt.Errorf("update audit entry: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *pgStore) AppendOutputs(ctx context.Context, id string, outputs map[string]string, citationIDs []string, total time.Duration) error {
	return s.mutate(ctx, id, func(e *domain.AuditEntry) {
		if e.Outputs == nil {
			e.Outputs = make(map[string]string, len(outputs))
		}
		for k, v := range outputs {
			e.Outputs[k] = v
		}
		e.CitedChunkIDs = append(e.CitedChunkIDs, citationIDs...)
		e.TotalDuration = total
	})
}

func (s *pgStore) AppendAgentTrace(ctx context.Context, id string, trace domain.AgentTrace) error {
	return s.mutate(ctx, id, func(e *domain.AuditEntry) {
		e.AgentTraces = append(e.AgentTraces, trace)
	})
}

func (s *pgStore) SetModeration(ctx context.Context, id, stage string, result domain.ModerationResult) error {
	return s.mutate(ctx, id, func(e *domain.AuditEntry) {
		if e.Moderation == nil {
			e.Moderation = make(map[string]domain.ModerationResult, 2)
		}
		e.Moderation[stage] = result
	})
}

func (s *pgStore) SetTokenUsage(ctx context.Context, id string, input, output int) error {
	return s.mutate(ctx, id, func(e *domain.AuditEntry) {
		e.InputTokens = input
		e.OutputTokens = output
	})
}

func (s *pgStore) SetPromptHash(ctx context.Context, id, hash string) error {
	return s.mutate(ctx, id, func(e *domain.AuditEntry) {
		e.PromptHash = hash
	})
}

func (s *pgStore) Get(ctx context.Context, id string) (domain.AuditEntry, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT entry FROM audit_entries WHERE id=$1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AuditEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("get audit entry: %w", err)
	}
	var entry domain.AuditEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("decode audit entry: %w", err)
	}
	return entry, nil
}

func (s *pgStore) QueryByUser(ctx context.Context, userID string, from, to time.Time) ([]domain.AuditEntry, error) {
	query := `SELECT entry FROM audit_entries WHERE user_id=$1`
	args := []any{userID}
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	var out []domain.AuditEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		var entry domain.AuditEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *pgStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM audit_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

func (s *pgStore) CleanupOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_entries WHERE created_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(retention.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("cleanup audit entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *pgStore) Close() { s.pool.Close() }
