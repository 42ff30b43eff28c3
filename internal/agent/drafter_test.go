package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/moyavari/ohs-copilot/internal/domain"
	"github.com/moyavari/ohs-copilot/internal/governance"
	"github.com/moyavari/ohs-copilot/internal/llm"
)

type scriptedClient struct {
	reply string
	err   error
	seen  string
}

func (s *scriptedClient) Model() string { return "scripted" }

func (s *scriptedClient) Complete(_ context.Context, prompt string) (string, error) {
	s.seen = prompt
	return s.reply, s.err
}

func askContext(question string, chunks []string, citations int) *Context {
	ac := NewContext("corr", nil)
	ac.RequestType = RequestAsk
	ac.Params["question"] = question
	ac.ContextChunks = chunks
	for i := 0; i < citations; i++ {
		ac.Citations = append(ac.Citations, domain.Citation{ID: "c1", Title: "T"})
	}
	return ac
}

func TestDrafterAnswerAndPromptHash(t *testing.T) {
	client := &scriptedClient{reply: "Wear hard hats [#1]."}
	reg := governance.NewPromptRegistry()
	d := NewDrafter(client, reg)
	ac := askContext("What PPE?", []string{"[Source: PPE - S]\nHard hats required."}, 1)

	if err := d.Execute(context.Background(), ac); err != nil {
		t.Fatal(err)
	}
	if ac.Answer == nil || ac.Answer.Content != "Wear hard hats [#1]." {
		t.Fatalf("answer: %#v", ac.Answer)
	}
	if ac.PromptHash == "" {
		t.Fatal("prompt hash not set")
	}
	pv, ok := reg.GetByHash(ac.PromptHash)
	if !ok {
		t.Fatal("prompt not registered")
	}
	if pv.Content != client.seen {
		t.Fatal("hash must cover the fully assembled prompt")
	}
	if !strings.Contains(client.seen, "Question: What PPE?") {
		t.Fatalf("prompt missing question: %q", client.seen)
	}
	if !strings.Contains(client.seen, "[Source: PPE - S]") {
		t.Fatal("prompt missing context")
	}
}

func TestDrafterPromptIncludesMemoryAndPersona(t *testing.T) {
	client := &scriptedClient{reply: "ok [#1]"}
	d := NewDrafter(client, governance.NewPromptRegistry())
	ac := askContext("follow up?", []string{"[Source: A - B]\ntext"}, 1)
	ac.Conversation = &domain.ConversationMemory{
		ID: "c1",
		Turns: []domain.Turn{
			{UserMessage: "first q", AssistantResponse: "first a"},
			{UserMessage: "second q", AssistantResponse: "second a"},
			{UserMessage: "third q", AssistantResponse: "third a"},
		},
	}
	persona := domain.DefaultPersona("u1", domain.PersonaInspector)
	ac.Persona = &persona

	if err := d.Execute(context.Background(), ac); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(client.seen, "first q") {
		t.Fatal("only the last 2 turns belong in the prompt")
	}
	if !strings.Contains(client.seen, "second q") || !strings.Contains(client.seen, "third q") {
		t.Fatal("recent turns missing from prompt")
	}
	if !strings.Contains(client.seen, "Field safety inspector") {
		t.Fatal("persona line missing from prompt")
	}
}

func TestDrafterBackfillsMissingMarkers(t *testing.T) {
	client := &scriptedClient{reply: "Hard hats are required. Safety glasses too"}
	d := NewDrafter(client, governance.NewPromptRegistry())
	ac := askContext("ppe?", []string{"[Source: A - B]\ntext"}, 2)

	if err := d.Execute(context.Background(), ac); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ac.Answer.Content, "[#1]") || !strings.Contains(ac.Answer.Content, "[#2]") {
		t.Fatalf("markers not backfilled: %q", ac.Answer.Content)
	}
}

func TestDrafterErrorPropagates(t *testing.T) {
	client := &scriptedClient{err: errors.New("provider unavailable")}
	d := NewDrafter(client, governance.NewPromptRegistry())
	ac := askContext("q", nil, 0)
	if err := d.Execute(context.Background(), ac); err == nil {
		t.Fatal("expected drafter failure")
	}
}

func draftContext(purpose string, points []string) *Context {
	ac := NewContext("corr", nil)
	ac.RequestType = RequestDraft
	ac.Params["purpose"] = purpose
	ac.Params["points"] = strings.Join(points, "\n")
	return ac
}

func TestDrafterParsesLetterJSON(t *testing.T) {
	client := &scriptedClient{reply: `{"subject":"Incident follow-up","body":"Dear {{recipient_name}},\nInvestigation scheduled.","placeholders":["recipient_name"]}`}
	d := NewDrafter(client, governance.NewPromptRegistry())
	ac := draftContext("incident notification", []string{"Investigation scheduled"})

	if err := d.Execute(context.Background(), ac); err != nil {
		t.Fatal(err)
	}
	if ac.LetterDraft == nil || ac.LetterDraft.Subject != "Incident follow-up" {
		t.Fatalf("letter: %#v", ac.LetterDraft)
	}
}

func TestDrafterStripsCodeFences(t *testing.T) {
	client := &scriptedClient{reply: "```json\n{\"subject\":\"s\",\"body\":\"b\",\"placeholders\":[\"recipient_name\"]}\n```"}
	d := NewDrafter(client, governance.NewPromptRegistry())
	ac := draftContext("p", nil)
	if err := d.Execute(context.Background(), ac); err != nil {
		t.Fatal(err)
	}
	if ac.LetterDraft.Subject != "s" {
		t.Fatalf("fenced JSON not parsed: %#v", ac.LetterDraft)
	}
}

func TestDrafterLetterFallbackOnBadJSON(t *testing.T) {
	client := &scriptedClient{reply: "Dear recipient, here is your letter without JSON."}
	d := NewDrafter(client, governance.NewPromptRegistry())
	ac := draftContext("safety reminder", nil)
	if err := d.Execute(context.Background(), ac); err != nil {
		t.Fatal(err)
	}
	if ac.LetterDraft == nil || !strings.Contains(ac.LetterDraft.Body, "without JSON") {
		t.Fatalf("fallback letter: %#v", ac.LetterDraft)
	}
	if len(ac.LetterDraft.Placeholders) == 0 {
		t.Fatal("fallback must carry default placeholders")
	}
}

var _ llm.Client = (*scriptedClient)(nil)
