package llm

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestDemoEmbedderDeterministic(t *testing.T) {
	e := NewDemoEmbedder(64, 0)
	ctx := context.Background()
	a, err := e.Embed(ctx, "hard hats are required")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(ctx, "hard hats are required")
	if len(a) != 64 {
		t.Fatalf("dimension = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding is not deterministic")
		}
	}
}

func TestDemoEmbedderBatch(t *testing.T) {
	e := NewDemoEmbedder(32, 0)
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
}

func TestDemoClientAnswersFromContext(t *testing.T) {
	c := NewDemoClient()
	prompt := "You are a workplace safety assistant.\n\nContext:\n[Source: Incident Reporting - General]\nReport incidents within 24 hours using Form WS-101.\n\nQuestion: How do I report?\n"
	out, err := c.Complete(context.Background(), prompt)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "24 hours") || !strings.Contains(out, "[#1]") {
		t.Fatalf("answer should ground in context with a marker: %q", out)
	}
}

func TestDemoClientInsufficientContext(t *testing.T) {
	c := NewDemoClient()
	out, err := c.Complete(context.Background(), "Question: anything?\n")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "enough information") {
		t.Fatalf("expected insufficient-information fallback, got %q", out)
	}
}

func TestDemoClientLetterJSON(t *testing.T) {
	c := NewDemoClient()
	prompt := "Draft a letter.\n\nPurpose: incident notification\nKey points:\n- Investigation scheduled\n- Documentation required\n\nReturn a JSON object with keys \"subject\", \"body\" and \"placeholders\".\n"
	out, err := c.Complete(context.Background(), prompt)
	if err != nil {
		t.Fatal(err)
	}
	var letter struct {
		Subject      string   `json:"subject"`
		Body         string   `json:"body"`
		Placeholders []string `json:"placeholders"`
	}
	if err := json.Unmarshal([]byte(out), &letter); err != nil {
		t.Fatalf("letter is not valid JSON: %v\n%s", err, out)
	}
	if letter.Subject == "" {
		t.Fatal("empty subject")
	}
	if !strings.Contains(letter.Body, "{{recipient_name}}") {
		t.Fatal("body missing recipient placeholder")
	}
	if !strings.Contains(letter.Body, "Investigation scheduled") {
		t.Fatal("body missing provided point")
	}
}
