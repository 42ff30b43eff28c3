package audit

import (
	"context"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

// Store is the append-only audit log. Field updates are last-writer-wins at
// field granularity, but no operation removes information already appended;
// agent traces only ever grow.
type Store interface {
	// Open persists a new entry and returns its id.
	Open(ctx context.Context, entry domain.AuditEntry) (string, error)
	// AppendOutputs records the response outputs, cited chunk ids and total
	// duration for an entry.
	AppendOutputs(ctx context.Context, id string, outputs map[string]string, citationIDs []string, total time.Duration) error
	// AppendAgentTrace adds one agent stage trace to an entry.
	AppendAgentTrace(ctx context.Context, id string, trace domain.AgentTrace) error
	// SetModeration records a moderation result under a stage label
	// ("input_moderation" or "output_moderation").
	SetModeration(ctx context.Context, id, stage string, result domain.ModerationResult) error
	// SetTokenUsage records prompt/completion token counts.
	SetTokenUsage(ctx context.Context, id string, input, output int) error
	// SetPromptHash replaces the PENDING prompt hash once known.
	SetPromptHash(ctx context.Context, id, hash string) error
	// Get returns the entry, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (domain.AuditEntry, error)
	// QueryByUser lists entries for a user, newest first, within the
	// optional [from, to) window.
	QueryByUser(ctx context.Context, userID string, from, to time.Time) ([]domain.AuditEntry, error)
	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)
	// CleanupOlderThan removes entries older than the retention bound,
	// returning how many were removed.
	CleanupOlderThan(ctx context.Context, retention time.Duration) (int, error)
}

// PromptHashPending is the placeholder recorded at Open, before the drafter
// has assembled the prompt.
const PromptHashPending = "PENDING"
