package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

func openEntry(t *testing.T, s Store, userID string) string {
	t.Helper()
	id, err := s.Open(context.Background(), domain.AuditEntry{
		Operation:     domain.OpAsk,
		UserID:        userID,
		CorrelationID: "corr-1",
		Inputs:        map[string]string{"question": "What PPE is required?"},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return id
}

func TestOpenDefaultsPendingHash(t *testing.T) {
	s := NewMemoryStore()
	id := openEntry(t, s, "u1")
	e, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if e.PromptHash != PromptHashPending {
		t.Fatalf("prompt hash = %q, want PENDING", e.PromptHash)
	}
	if e.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestTracesGrowMonotonically(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := openEntry(t, s, "u1")

	_ = s.AppendAgentTrace(ctx, id, domain.AgentTrace{Agent: "router", Tool: "classify"})
	before, _ := s.Get(ctx, id)

	_ = s.AppendAgentTrace(ctx, id, domain.AgentTrace{Agent: "retriever", Tool: "vector_search"})
	_ = s.AppendOutputs(ctx, id, map[string]string{"response": "ok"}, []string{"c1"}, time.Second)
	after, _ := s.Get(ctx, id)

	if len(after.AgentTraces) < len(before.AgentTraces) {
		t.Fatal("traces shrank")
	}
	for i, tr := range before.AgentTraces {
		if after.AgentTraces[i] != tr {
			t.Fatalf("earlier trace mutated: %#v vs %#v", after.AgentTraces[i], tr)
		}
	}
}

func TestConcurrentTraceWriters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := openEntry(t, s, "u1")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.AppendAgentTrace(ctx, id, domain.AgentTrace{Agent: "drafter", Tool: "llm"})
		}()
	}
	wg.Wait()
	e, _ := s.Get(ctx, id)
	if len(e.AgentTraces) != 20 {
		t.Fatalf("lost traces under concurrency: %d", len(e.AgentTraces))
	}
}

func TestQueryByUserWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	openEntry(t, s, "alice")
	openEntry(t, s, "alice")
	openEntry(t, s, "bob")

	entries, err := s.QueryByUser(ctx, "alice", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for alice, got %d", len(entries))
	}
	past := time.Now().UTC().Add(-time.Hour)
	entries, _ = s.QueryByUser(ctx, "alice", time.Time{}, past)
	if len(entries) != 0 {
		t.Fatalf("window filter broken, got %d", len(entries))
	}
}

func TestModerationAndTokens(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := openEntry(t, s, "u1")
	_ = s.SetModeration(ctx, id, "input_moderation", domain.ModerationResult{Action: domain.ActionBlock, Flagged: true})
	_ = s.SetTokenUsage(ctx, id, 120, 45)
	_ = s.SetPromptHash(ctx, id, "abc123")
	e, _ := s.Get(ctx, id)
	if e.Moderation["input_moderation"].Action != domain.ActionBlock {
		t.Fatalf("moderation lost: %#v", e.Moderation)
	}
	if e.InputTokens != 120 || e.OutputTokens != 45 {
		t.Fatalf("tokens: %d/%d", e.InputTokens, e.OutputTokens)
	}
	if e.PromptHash != "abc123" {
		t.Fatalf("hash: %s", e.PromptHash)
	}
}

func TestCleanupOlderThan(t *testing.T) {
	s := NewMemoryStore().(*memStore)
	ctx := context.Background()
	id := openEntry(t, s, "u1")
	s.mu.Lock()
	s.entries[id].Timestamp = time.Now().UTC().Add(-72 * time.Hour)
	s.mu.Unlock()
	openEntry(t, s, "u1")

	removed, err := s.CleanupOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d", removed)
	}
	n, _ := s.Count(ctx)
	if n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestMissingEntryErrors(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing: %v", err)
	}
	if err := s.AppendAgentTrace(ctx, "missing", domain.AgentTrace{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("AppendAgentTrace missing: %v", err)
	}
}
