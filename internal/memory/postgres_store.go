package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

type pgMemStore struct {
	pool     *pgxpool.Pool
	maxTurns int
}

// NewPostgresStore builds the postgres memory backend. Concurrency relies on
// the database; the wrapper holds no locks.
func NewPostgresStore(ctx context.Context, connStr string, maxTurns int) (Store, error) {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	cfg.MaxConns = 8
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &pgMemStore{pool: pool, maxTurns: maxTurns}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *pgMemStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL DEFAULT '',
  turns JSONB NOT NULL DEFAULT '[]'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_activity TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS personas (
  user_id TEXT PRIMARY KEY,
  variant TEXT NOT NULL,
  profile JSONB NOT NULL DEFAULT '{}'::jsonb,
  preferences JSONB NOT NULL DEFAULT '[]'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS policies (
  key TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  content TEXT NOT NULL DEFAULT '',
  tags JSONB NOT NULL DEFAULT '[]'::jsonb,
  category TEXT NOT NULL DEFAULT '',
  access_count INT NOT NULL DEFAULT 0,
  last_accessed TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate memory tables: %w", err)
		}
	}
	return nil
}

func (s *pgMemStore) AppendTurn(ctx context.Context, conversationID, userID string, turn domain.Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	turnJSON, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	// Append then trim to the window in one statement; last-writer-wins on
	// concurrent appends is acceptable for conversation memory.
	_, err = s.pool.Exec(ctx, `
INSERT INTO conversations (id, user_id, turns, last_activity)
VALUES ($1, $2, jsonb_build_array($3::jsonb), now())
ON CONFLICT (id) DO UPDATE SET
  turns = (
    SELECT COALESCE(jsonb_agg(t), '[]'::jsonb) FROM (
      SELECT t FROM jsonb_array_elements(conversations.turns || jsonb_build_array($3::jsonb)) WITH ORDINALITY AS e(t, ord)
      ORDER BY ord DESC LIMIT $4
    ) tail
  ),
  last_activity = now()
`, conversationID, userID, string(turnJSON), s.maxTurns)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	// The trimming subquery reverses order; restore chronological order.
	_, err = s.pool.Exec(ctx, `
UPDATE conversations SET turns = (
  SELECT COALESCE(jsonb_agg(t ORDER BY (t->>'timestamp')), '[]'::jsonb)
  FROM jsonb_array_elements(turns) AS t
) WHERE id = $1
`, conversationID)
	if err != nil {
		return fmt.Errorf("reorder turns: %w", err)
	}
	return nil
}

func (s *pgMemStore) GetConversation(ctx context.Context, conversationID string) (domain.ConversationMemory, error) {
	var conv domain.ConversationMemory
	var turnsJSON []byte
	err := s.pool.QueryRow(ctx, `
SELECT id, user_id, turns, created_at, last_activity FROM conversations WHERE id=$1
`, conversationID).Scan(&conv.ID, &conv.UserID, &turnsJSON, &conv.CreatedAt, &conv.LastActivity)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ConversationMemory{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ConversationMemory{}, fmt.Errorf("get conversation: %w", err)
	}
	if err := json.Unmarshal(turnsJSON, &conv.Turns); err != nil {
		return domain.ConversationMemory{}, fmt.Errorf("decode turns: %w", err)
	}
	return conv, nil
}

func (s *pgMemStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE last_activity < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(ttl.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("cleanup conversations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *pgMemStore) GetPersona(ctx context.Context, userID string) (domain.PersonaMemory, error) {
	var p domain.PersonaMemory
	var profileJSON, prefsJSON []byte
	err := s.pool.QueryRow(ctx, `
SELECT user_id, variant, profile, preferences, created_at, updated_at FROM personas WHERE user_id=$1
`, userID).Scan(&p.UserID, &p.Variant, &profileJSON, &prefsJSON, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		seeded := domain.DefaultPersona(userID, domain.PersonaAdministrator)
		if err := s.PutPersona(ctx, seeded); err != nil {
			return domain.PersonaMemory{}, err
		}
		return seeded, nil
	}
	if err != nil {
		return domain.PersonaMemory{}, fmt.Errorf("get persona: %w", err)
	}
	if err := json.Unmarshal(profileJSON, &p.Profile); err != nil {
		return domain.PersonaMemory{}, fmt.Errorf("decode persona profile: %w", err)
	}
	if err := json.Unmarshal(prefsJSON, &p.Preferences); err != nil {
		return domain.PersonaMemory{}, fmt.Errorf("decode persona preferences: %w", err)
	}
	return p, nil
}

func (s *pgMemStore) PutPersona(ctx context.Context, persona domain.PersonaMemory) error {
	profileJSON, err := json.Marshal(persona.Profile)
	if err != nil {
		return fmt.Errorf("encode persona profile: %w", err)
	}
	prefs := persona.Preferences
	if prefs == nil {
		prefs = []string{}
	}
	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode persona preferences: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO personas (user_id, variant, profile, preferences)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET
  variant=EXCLUDED.variant, profile=EXCLUDED.profile,
  preferences=EXCLUDED.preferences, updated_at=now()
`, persona.UserID, persona.Variant, profileJSON, prefsJSON)
	if err != nil {
		return fmt.Errorf("put persona: %w", err)
	}
	return nil
}

func (s *pgMemStore) PutPolicy(ctx context.Context, policy domain.PolicyMemory) error {
	tags := policy.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode policy tags: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO policies (key, title, content, tags, category)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key) DO UPDATE SET
  title=EXCLUDED.title, content=EXCLUDED.content,
  tags=EXCLUDED.tags, category=EXCLUDED.category
`, policy.Key, policy.Title, policy.Content, tagsJSON, policy.Category)
	if err != nil {
		return fmt.Errorf("put policy: %w", err)
	}
	return nil
}

func (s *pgMemStore) GetPolicy(ctx context.Context, key string) (domain.PolicyMemory, error) {
	var p domain.PolicyMemory
	var tagsJSON []byte
	err := s.pool.QueryRow(ctx, `
UPDATE policies SET access_count = access_count + 1, last_accessed = now()
WHERE key=$1
RETURNING key, title, content, tags, category, access_count, last_accessed
`, key).Scan(&p.Key, &p.Title, &p.Content, &tagsJSON, &p.Category, &p.AccessCount, &p.LastAccessed)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PolicyMemory{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PolicyMemory{}, fmt.Errorf("get policy: %w", err)
	}
	if err := json.Unmarshal(tagsJSON, &p.Tags); err != nil {
		return domain.PolicyMemory{}, fmt.Errorf("decode policy tags: %w", err)
	}
	return p, nil
}

func (s *pgMemStore) SearchPolicies(ctx context.Context, query string, limit int) ([]domain.PolicyMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"
	rows, err := s.pool.Query(ctx, `
UPDATE policies SET access_count = access_count + 1, last_accessed = now()
WHERE title ILIKE $1 OR content ILIKE $1 OR category ILIKE $1 OR tags::text ILIKE $1
RETURNING key, title, content, tags, category, access_count, last_accessed
`, pattern)
	if err != nil {
		return nil, fmt.Errorf("search policies: %w", err)
	}
	defer rows.Close()
	var hits []domain.PolicyMemory
	for rows.Next() {
		var p domain.PolicyMemory
		var tagsJSON []byte
		if err := rows.Scan(&p.Key, &p.Title, &p.Content, &tagsJSON, &p.Category, &p.AccessCount, &p.LastAccessed); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		if err := json.Unmarshal(tagsJSON, &p.Tags); err != nil {
			return nil, fmt.Errorf("decode policy tags: %w", err)
		}
		hits = append(hits, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// ranking happens after the access update, which already changed counts
	sortPolicies(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *pgMemStore) Close() { s.pool.Close() }
