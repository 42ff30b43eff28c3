package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

type memStore struct {
	mu            sync.RWMutex
	maxTurns      int
	conversations map[string]domain.ConversationMemory
	personas      map[string]domain.PersonaMemory
	policies      map[string]domain.PolicyMemory
}

// NewMemoryStore builds the in-process backend. maxTurns bounds the rolling
// conversation window.
func NewMemoryStore(maxTurns int) Store {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &memStore{
		maxTurns:      maxTurns,
		conversations: make(map[string]domain.ConversationMemory),
		personas:      make(map[string]domain.PersonaMemory),
		policies:      make(map[string]domain.PolicyMemory),
	}
}

func (s *memStore) AppendTurn(_ context.Context, conversationID, userID string, turn domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = domain.ConversationMemory{ID: conversationID, UserID: userID, CreatedAt: now}
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	conv.Turns = append(conv.Turns, turn)
	if len(conv.Turns) > s.maxTurns {
		conv.Turns = conv.Turns[len(conv.Turns)-s.maxTurns:]
	}
	conv.LastActivity = now
	s.conversations[conversationID] = conv
	return nil
}

func (s *memStore) GetConversation(_ context.Context, conversationID string) (domain.ConversationMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return domain.ConversationMemory{}, domain.ErrNotFound
	}
	cp := conv
	cp.Turns = append([]domain.Turn(nil), conv.Turns...)
	return cp, nil
}

func (s *memStore) CleanupExpired(_ context.Context, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-ttl)
	removed := 0
	for id, conv := range s.conversations {
		if conv.LastActivity.Before(cutoff) {
			delete(s.conversations, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memStore) GetPersona(_ context.Context, userID string) (domain.PersonaMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.personas[userID]; ok {
		return p, nil
	}
	p := domain.DefaultPersona(userID, domain.PersonaAdministrator)
	s.personas[userID] = p
	return p, nil
}

func (s *memStore) PutPersona(_ context.Context, persona domain.PersonaMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	persona.UpdatedAt = time.Now().UTC()
	if existing, ok := s.personas[persona.UserID]; ok {
		persona.CreatedAt = existing.CreatedAt
	} else if persona.CreatedAt.IsZero() {
		persona.CreatedAt = persona.UpdatedAt
	}
	s.personas[persona.UserID] = persona
	return nil
}

func (s *memStore) PutPolicy(_ context.Context, policy domain.PolicyMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policy.Key] = policy
	return nil
}

func (s *memStore) GetPolicy(_ context.Context, key string) (domain.PolicyMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[key]
	if !ok {
		return domain.PolicyMemory{}, domain.ErrNotFound
	}
	p.AccessCount++
	p.LastAccessed = time.Now().UTC()
	s.policies[key] = p
	return p, nil
}

func (s *memStore) SearchPolicies(_ context.Context, query string, limit int) ([]domain.PolicyMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.Lock()
	defer s.mu.Unlock()
	var hits []domain.PolicyMemory
	now := time.Now().UTC()
	for key, p := range s.policies {
		if !policyMatches(p, q) {
			continue
		}
		p.AccessCount++
		p.LastAccessed = now
		s.policies[key] = p
		hits = append(hits, p)
	}
	sortPolicies(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func policyMatches(p domain.PolicyMemory, q string) bool {
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(p.Title), q) ||
		strings.Contains(strings.ToLower(p.Content), q) ||
		strings.Contains(strings.ToLower(p.Category), q) {
		return true
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}
