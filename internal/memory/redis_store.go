package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

type redisMemStore struct {
	client   *redis.Client
	maxTurns int
}

// NewRedisStore builds the redis memory backend. Keys are written without a
// redis TTL; CleanupExpired scans the conversations and deletes those whose
// last activity is older than the given TTL.
func NewRedisStore(addr string, maxTurns int) Store {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &redisMemStore{client: redis.NewClient(&redis.Options{Addr: addr}), maxTurns: maxTurns}
}

func convKey(id string) string    { return "memory:conversation:" + id }
func personaKey(id string) string { return "memory:persona:" + id }
func policyKey(id string) string  { return "memory:policy:" + id }

const policyIndexKey = "memory:policies"

func (s *redisMemStore) AppendTurn(ctx context.Context, conversationID, userID string, turn domain.Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	conv, err := s.GetConversation(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		conv = domain.ConversationMemory{ID: conversationID, UserID: userID, CreatedAt: time.Now().UTC()}
	} else if err != nil {
		return err
	}
	conv.Turns = append(conv.Turns, turn)
	if len(conv.Turns) > s.maxTurns {
		conv.Turns = conv.Turns[len(conv.Turns)-s.maxTurns:]
	}
	conv.LastActivity = time.Now().UTC()
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := s.client.Set(ctx, convKey(conversationID), data, 0).Err(); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *redisMemStore) GetConversation(ctx context.Context, conversationID string) (domain.ConversationMemory, error) {
	data, err := s.client.Get(ctx, convKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ConversationMemory{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ConversationMemory{}, fmt.Errorf("get conversation: %w", err)
	}
	var conv domain.ConversationMemory
	if err := json.Unmarshal(data, &conv); err != nil {
		return domain.ConversationMemory{}, fmt.Errorf("decode conversation: %w", err)
	}
	return conv, nil
}

func (s *redisMemStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int, error) {
	var cursor uint64
	removed := 0
	cutoff := time.Now().UTC().Add(-ttl)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, convKey("*"), 100).Result()
		if err != nil {
			return removed, fmt.Errorf("scan conversations: %w", err)
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var conv domain.ConversationMemory
			if err := json.Unmarshal(data, &conv); err != nil {
				continue
			}
			if conv.LastActivity.Before(cutoff) {
				if s.client.Del(ctx, key).Err() == nil {
					removed++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

func (s *redisMemStore) GetPersona(ctx context.Context, userID string) (domain.PersonaMemory, error) {
	data, err := s.client.Get(ctx, personaKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		seeded := domain.DefaultPersona(userID, domain.PersonaAdministrator)
		if err := s.PutPersona(ctx, seeded); err != nil {
			return domain.PersonaMemory{}, err
		}
		return seeded, nil
	}
	if err != nil {
		return domain.PersonaMemory{}, fmt.Errorf("get persona: %w", err)
	}
	var p domain.PersonaMemory
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.PersonaMemory{}, fmt.Errorf("decode persona: %w", err)
	}
	return p, nil
}

func (s *redisMemStore) PutPersona(ctx context.Context, persona domain.PersonaMemory) error {
	persona.UpdatedAt = time.Now().UTC()
	if persona.CreatedAt.IsZero() {
		persona.CreatedAt = persona.UpdatedAt
	}
	data, err := json.Marshal(persona)
	if err != nil {
		return fmt.Errorf("encode persona: %w", err)
	}
	if err := s.client.Set(ctx, personaKey(persona.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("put persona: %w", err)
	}
	return nil
}

func (s *redisMemStore) PutPolicy(ctx context.Context, policy domain.PolicyMemory) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, policyKey(policy.Key), data, 0)
	pipe.SAdd(ctx, policyIndexKey, policy.Key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put policy: %w", err)
	}
	return nil
}

func (s *redisMemStore) GetPolicy(ctx context.Context, key string) (domain.PolicyMemory, error) {
	data, err := s.client.Get(ctx, policyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PolicyMemory{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PolicyMemory{}, fmt.Errorf("get policy: %w", err)
	}
	var p domain.PolicyMemory
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.PolicyMemory{}, fmt.Errorf("decode policy: %w", err)
	}
	p.AccessCount++
	p.LastAccessed = time.Now().UTC()
	if updated, err := json.Marshal(p); err == nil {
		_ = s.client.Set(ctx, policyKey(key), updated, 0).Err()
	}
	return p, nil
}

func (s *redisMemStore) SearchPolicies(ctx context.Context, query string, limit int) ([]domain.PolicyMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	keys, err := s.client.SMembers(ctx, policyIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	var hits []domain.PolicyMemory
	for _, key := range keys {
		data, err := s.client.Get(ctx, policyKey(key)).Bytes()
		if err != nil {
			continue
		}
		var p domain.PolicyMemory
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		if !policyMatches(p, strings.ToLower(strings.TrimSpace(query))) {
			continue
		}
		p.AccessCount++
		p.LastAccessed = time.Now().UTC()
		if updated, err := json.Marshal(p); err == nil {
			_ = s.client.Set(ctx, policyKey(key), updated, 0).Err()
		}
		hits = append(hits, p)
	}
	sortPolicies(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *redisMemStore) Close() error { return s.client.Close() }
