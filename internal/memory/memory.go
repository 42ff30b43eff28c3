package memory

import (
	"context"
	"sort"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

// Store is the pluggable backend for the three memory layers: conversation,
// persona and policy. All operations are safe for concurrent use.
type Store interface {
	// AppendTurn appends a turn to a conversation, creating it if absent, and
	// trims the turn window to the configured retention.
	AppendTurn(ctx context.Context, conversationID, userID string, turn domain.Turn) error
	// GetConversation returns the conversation, or domain.ErrNotFound.
	GetConversation(ctx context.Context, conversationID string) (domain.ConversationMemory, error)
	// CleanupExpired removes conversations whose last activity is older than
	// the TTL, returning how many were removed.
	CleanupExpired(ctx context.Context, ttl time.Duration) (int, error)

	// GetPersona returns the persona for a user, seeding the default
	// Administrator profile on first access.
	GetPersona(ctx context.Context, userID string) (domain.PersonaMemory, error)
	// PutPersona stores or replaces a persona profile.
	PutPersona(ctx context.Context, persona domain.PersonaMemory) error

	// PutPolicy stores or replaces a policy entry by key.
	PutPolicy(ctx context.Context, policy domain.PolicyMemory) error
	// GetPolicy returns the entry and records the access.
	GetPolicy(ctx context.Context, key string) (domain.PolicyMemory, error)
	// SearchPolicies is a case-insensitive substring search over title,
	// content, tags and category, ranked by access count then recency.
	// Matches have their access recorded.
	SearchPolicies(ctx context.Context, query string, limit int) ([]domain.PolicyMemory, error)
}

// sortPolicies ranks search hits by access count descending, then last
// access descending.
func sortPolicies(hits []domain.PolicyMemory) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].AccessCount != hits[j].AccessCount {
			return hits[i].AccessCount > hits[j].AccessCount
		}
		return hits[i].LastAccessed.After(hits[j].LastAccessed)
	})
}
