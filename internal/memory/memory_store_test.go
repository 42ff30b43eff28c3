package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

func TestConversationRetentionWindow(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		err := s.AppendTurn(ctx, "c1", "u1", domain.Turn{
			UserMessage:       fmt.Sprintf("question %d", i),
			AssistantResponse: fmt.Sprintf("answer %d", i),
		})
		if err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
	}
	conv, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(conv.Turns) != 10 {
		t.Fatalf("retention: got %d turns, want 10", len(conv.Turns))
	}
	if conv.Turns[9].UserMessage != "question 14" {
		t.Fatalf("last turn should be most recent, got %q", conv.Turns[9].UserMessage)
	}
	if conv.Turns[0].UserMessage != "question 5" {
		t.Fatalf("oldest turns should be dropped, first is %q", conv.Turns[0].UserMessage)
	}
}

func TestRecentContext(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = s.AppendTurn(ctx, "c1", "", domain.Turn{UserMessage: fmt.Sprintf("q%d", i)})
	}
	conv, _ := s.GetConversation(ctx, "c1")
	recent := conv.RecentContext(3)
	if len(recent) != 3 || recent[0].UserMessage != "q2" {
		t.Fatalf("recent context wrong: %#v", recent)
	}
}

func TestGetMissingConversation(t *testing.T) {
	s := NewMemoryStore(10)
	if _, err := s.GetConversation(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	s := NewMemoryStore(10).(*memStore)
	ctx := context.Background()
	_ = s.AppendTurn(ctx, "old", "", domain.Turn{UserMessage: "hi"})
	_ = s.AppendTurn(ctx, "fresh", "", domain.Turn{UserMessage: "hi"})
	// age the old conversation directly
	s.mu.Lock()
	conv := s.conversations["old"]
	conv.LastActivity = time.Now().UTC().Add(-48 * time.Hour)
	s.conversations["old"] = conv
	s.mu.Unlock()

	removed, err := s.CleanupExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := s.GetConversation(ctx, "fresh"); err != nil {
		t.Fatalf("fresh conversation removed: %v", err)
	}
}

func TestPersonaSeededOnFirstAccess(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	p, err := s.GetPersona(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Variant != domain.PersonaAdministrator {
		t.Fatalf("default variant = %s", p.Variant)
	}
	if p.Profile["role"] == "" {
		t.Fatal("profile not seeded")
	}

	custom := domain.DefaultPersona("u1", domain.PersonaInspector)
	if err := s.PutPersona(ctx, custom); err != nil {
		t.Fatal(err)
	}
	p, _ = s.GetPersona(ctx, "u1")
	if p.Variant != domain.PersonaInspector {
		t.Fatalf("persona update lost, variant = %s", p.Variant)
	}
}

func TestPolicySearchRanking(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	_ = s.PutPolicy(ctx, domain.PolicyMemory{Key: "ppe", Title: "PPE Requirements", Content: "hard hats on all sites", Category: "safety"})
	_ = s.PutPolicy(ctx, domain.PolicyMemory{Key: "ladders", Title: "Ladder Safety", Content: "inspect before use", Tags: []string{"equipment"}, Category: "safety"})
	_ = s.PutPolicy(ctx, domain.PolicyMemory{Key: "claims", Title: "Claims Intake", Content: "file within 30 days", Category: "claims"})

	// bump ladder access so it outranks ppe on the shared "safety" term
	for i := 0; i < 3; i++ {
		if _, err := s.GetPolicy(ctx, "ladders"); err != nil {
			t.Fatal(err)
		}
	}
	hits, err := s.SearchPolicies(ctx, "safety", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Key != "ladders" {
		t.Fatalf("ranking by access count broken, first = %s", hits[0].Key)
	}

	// substring match over tags, case-insensitive
	hits, _ = s.SearchPolicies(ctx, "EQUIP", 10)
	if len(hits) != 1 || hits[0].Key != "ladders" {
		t.Fatalf("tag search: %#v", hits)
	}
}

func TestPolicyAccessRecordedOnRead(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	_ = s.PutPolicy(ctx, domain.PolicyMemory{Key: "k", Title: "T", Content: "c"})
	p1, _ := s.GetPolicy(ctx, "k")
	p2, _ := s.GetPolicy(ctx, "k")
	if p2.AccessCount != p1.AccessCount+1 {
		t.Fatalf("access not recorded: %d then %d", p1.AccessCount, p2.AccessCount)
	}
}
