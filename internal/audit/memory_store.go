package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

type memStore struct {
	mu      sync.RWMutex
	entries map[string]*domain.AuditEntry
}

// NewMemoryStore builds the in-process audit backend.
func NewMemoryStore() Store {
	return &memStore{entries: make(map[string]*domain.AuditEntry)}
}

func (s *memStore) Open(_ context.Context, entry domain.AuditEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.PromptHash == "" {
		entry.PromptHash = PromptHashPending
	}
	cp := entry
	s.entries[entry.ID] = &cp
	return entry.ID, nil
}

func (s *memStore) AppendOutputs(_ context.Context, id string, outputs map[string]string, citationIDs []string, total time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.Outputs == nil {
		e.Outputs = make(map[string]string, len(outputs))
	}
	for k, v := range outputs {
		e.Outputs[k] = v
	}
	e.CitedChunkIDs = append(e.CitedChunkIDs, citationIDs...)
	e.TotalDuration = total
	return nil
}

func (s *memStore) AppendAgentTrace(_ context.Context, id string, trace domain.AgentTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.AgentTraces = append(e.AgentTraces, trace)
	return nil
}

func (s *memStore) SetModeration(_ context.Context, id, stage string, result domain.ModerationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.Moderation == nil {
		e.Moderation = make(map[string]domain.ModerationResult, 2)
	}
	e.Moderation[stage] = result
	return nil
}

func (s *memStore) SetTokenUsage(_ context.Context, id string, input, output int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.InputTokens = input
	e.OutputTokens = output
	return nil
}

func (s *memStore) SetPromptHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.PromptHash = hash
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.AuditEntry{}, domain.ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *memStore) QueryByUser(_ context.Context, userID string, from, to time.Time) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.UserID != userID {
			continue
		}
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !e.Timestamp.Before(to) {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (s *memStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *memStore) CleanupOlderThan(_ context.Context, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-retention)
	removed := 0
	for id, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// cloneEntry copies the entry so callers cannot mutate the stored record.
func cloneEntry(e *domain.AuditEntry) domain.AuditEntry {
	cp := *e
	cp.CitedChunkIDs = append([]string(nil), e.CitedChunkIDs...)
	cp.AgentTraces = append([]domain.AgentTrace(nil), e.AgentTraces...)
	if e.Inputs != nil {
		cp.Inputs = make(map[string]string, len(e.Inputs))
		for k, v := range e.Inputs {
			cp.Inputs[k] = v
		}
	}
	if e.Outputs != nil {
		cp.Outputs = make(map[string]string, len(e.Outputs))
		for k, v := range e.Outputs {
			cp.Outputs[k] = v
		}
	}
	if e.Moderation != nil {
		cp.Moderation = make(map[string]domain.ModerationResult, len(e.Moderation))
		for k, v := range e.Moderation {
			cp.Moderation[k] = v
		}
	}
	return cp
}
