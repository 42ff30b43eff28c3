package agent

import (
	"errors"
	"testing"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

func TestBudgetConsumeWithinMax(t *testing.T) {
	b := NewTokenBudget(100)
	if err := b.Consume(40); err != nil {
		t.Fatal(err)
	}
	if err := b.Consume(60); err != nil {
		t.Fatal(err)
	}
	if b.Remaining() != 0 {
		t.Fatalf("remaining = %d", b.Remaining())
	}
}

func TestBudgetOverConsumptionFailsWithoutMutation(t *testing.T) {
	b := NewTokenBudget(100)
	_ = b.Consume(90)
	err := b.Consume(20)
	if !errors.Is(err, domain.ErrOverBudget) {
		t.Fatalf("expected ErrOverBudget, got %v", err)
	}
	if b.Consumed() != 90 {
		t.Fatalf("failed consume mutated budget: %d", b.Consumed())
	}
	// a smaller consume still fits
	if err := b.Consume(10); err != nil {
		t.Fatal(err)
	}
}

func TestBudgetCanConsume(t *testing.T) {
	b := NewTokenBudget(10)
	if !b.CanConsume(10) {
		t.Fatal("exact fit should be allowed")
	}
	if b.CanConsume(11) {
		t.Fatal("over max should be rejected")
	}
	if b.CanConsume(-1) {
		t.Fatal("negative should be rejected")
	}
}

func TestBudgetReset(t *testing.T) {
	b := NewTokenBudget(50)
	_ = b.Consume(50)
	b.Reset()
	if b.Consumed() != 0 || b.Remaining() != 50 {
		t.Fatalf("reset broken: %d/%d", b.Consumed(), b.Remaining())
	}
}

func TestBudgetInvariantUnderSequence(t *testing.T) {
	b := NewTokenBudget(1000)
	total := 0
	for _, n := range []int{100, 250, 400, 300, 249, 1} {
		if err := b.Consume(n); err == nil {
			total += n
		}
		if total > 1000 {
			t.Fatalf("invariant violated: %d > max", total)
		}
		if b.Consumed() != total {
			t.Fatalf("consumed drifted: %d vs %d", b.Consumed(), total)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Fatal("empty text should cost nothing")
	}
	got := EstimateTokens("one two three")
	if got <= 0 {
		t.Fatalf("cost must be positive, got %d", got)
	}
	if got != 4 {
		t.Fatalf("3 words should estimate to 4 tokens, got %d", got)
	}
}
