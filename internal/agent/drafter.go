package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
	"github.com/moyavari/ohs-copilot/internal/governance"
	"github.com/moyavari/ohs-copilot/internal/llm"
	"github.com/moyavari/ohs-copilot/internal/observability"
)

const (
	askPromptName   = "ask-answer"
	draftPromptName = "draft-letter"
)

// Drafter assembles the prompt, calls the language model, and parses the
// reply into an Answer or LetterDraft depending on the request type.
type Drafter struct {
	client   llm.Client
	registry *governance.PromptRegistry
}

// NewDrafter builds the drafting stage.
func NewDrafter(client llm.Client, registry *governance.PromptRegistry) *Drafter {
	return &Drafter{client: client, registry: registry}
}

func (d *Drafter) Name() string { return "drafter" }

func (d *Drafter) Execute(ctx context.Context, ac *Context) error {
	start := time.Now()
	var err error
	switch ac.RequestType {
	case RequestDraft:
		err = d.draftLetter(ctx, ac)
	default:
		err = d.answerQuestion(ctx, ac)
	}
	ac.AddTrace(d.Name(), "llm_complete", string(ac.RequestType), time.Since(start))
	return err
}

func (d *Drafter) answerQuestion(ctx context.Context, ac *Context) error {
	question, _ := ac.Param("question")
	prompt := buildAskPrompt(question, ac.ContextChunks, ac.Conversation, ac.Persona)
	ac.PromptHash = d.registry.Store(prompt, askPromptName)

	reply, err := d.client.Complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("drafter: %w", err)
	}
	content := ensureMarkers(reply, len(ac.Citations))
	ac.Answer = &domain.Answer{Content: content, Citations: ac.Citations}
	return nil
}

func buildAskPrompt(question string, chunks []string, conv *domain.ConversationMemory, persona *domain.PersonaMemory) string {
	var sb strings.Builder
	sb.WriteString("You are a workplace safety assistant for occupational health and safety staff.\n\n")
	sb.WriteString("Context:\n")
	if len(chunks) > 0 {
		sb.WriteString(strings.Join(chunks, "\n\n"))
	} else {
		sb.WriteString("(no relevant documents found)")
	}
	sb.WriteString("\n\n")
	if conv != nil {
		if recent := conv.RecentContext(2); len(recent) > 0 {
			sb.WriteString("Previous conversation:\n")
			for _, turn := range recent {
				sb.WriteString("User: " + turn.UserMessage + "\n")
				sb.WriteString("Assistant: " + turn.AssistantResponse + "\n")
			}
			sb.WriteString("\n")
		}
	}
	if persona != nil {
		role := persona.Profile["role"]
		style := persona.Profile["response_style"]
		if role != "" || style != "" {
			sb.WriteString(fmt.Sprintf("The reader is a %s; respond in a %s manner.\n\n", role, style))
		}
	}
	sb.WriteString("Question: " + question + "\n\n")
	sb.WriteString("Instructions:\n")
	sb.WriteString("- Answer using only the provided context.\n")
	sb.WriteString("- Mark every factual claim with a citation marker like [#1].\n")
	sb.WriteString("- If the context does not contain the answer, reply exactly: I don't have enough information to answer this question.\n")
	sb.WriteString("- Keep the response under 300 words.\n")
	sb.WriteString("- Use a neutral, professional tone.\n")
	return sb.String()
}

var markerRe = regexp.MustCompile(`\[#(\d+)\]`)

// ensureMarkers backfills citation markers the model omitted: each missing
// marker is appended to the next sentence that has none.
func ensureMarkers(content string, citations int) string {
	if citations == 0 {
		return content
	}
	present := make(map[int]bool)
	for _, m := range markerRe.FindAllStringSubmatch(content, -1) {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		present[n] = true
	}
	var missing []int
	for k := 1; k <= citations; k++ {
		if !present[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return content
	}
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return content
	}
	si := 0
	for _, k := range missing {
		for si < len(sentences) && markerRe.MatchString(sentences[si]) {
			si++
		}
		if si >= len(sentences) {
			si = len(sentences) - 1
		}
		sentences[si] += fmt.Sprintf(" [#%d]", k)
		si++
		if si >= len(sentences) {
			si = len(sentences) - 1
		}
	}
	return strings.Join(sentences, ". ") + "."
}

func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (d *Drafter) draftLetter(ctx context.Context, ac *Context) error {
	purpose, _ := ac.Param("purpose")
	points, _ := ac.Param("points")
	recipient, _ := ac.Param("recipient")
	tone, _ := ac.Param("tone")

	prompt := buildDraftPrompt(purpose, points, recipient, tone, ac.ContextChunks)
	ac.PromptHash = d.registry.Store(prompt, draftPromptName)

	reply, err := d.client.Complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("drafter: %w", err)
	}
	ac.LetterDraft = parseLetter(reply, purpose)
	if ac.LetterDraft.Subject == "" {
		observability.Logger(ctx).Warn().Msg("letter parse fell back to raw reply")
	}
	return nil
}

func buildDraftPrompt(purpose, points, recipient, tone string, chunks []string) string {
	var sb strings.Builder
	sb.WriteString("You are drafting a formal occupational health and safety letter.\n\n")
	sb.WriteString("Purpose: " + purpose + "\n")
	if recipient != "" {
		sb.WriteString("Recipient: " + recipient + "\n")
	}
	if tone != "" {
		sb.WriteString("Tone: " + tone + "\n")
	}
	if points != "" {
		sb.WriteString("Key points:\n")
		for _, p := range strings.Split(points, "\n") {
			if p = strings.TrimSpace(p); p != "" {
				sb.WriteString("- " + p + "\n")
			}
		}
	}
	if len(chunks) > 0 {
		sb.WriteString("\nReference material:\n")
		sb.WriteString(strings.Join(chunks, "\n\n"))
		sb.WriteString("\n")
	}
	sb.WriteString("\nAddress the recipient as {{recipient_name}} and use {placeholder} tokens for any detail you do not know.\n")
	sb.WriteString("Return a JSON object with keys \"subject\", \"body\" and \"placeholders\" (the list of placeholder names used).\n")
	return sb.String()
}

var codeFenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// parseLetter is defensive: code fences are stripped and a JSON failure
// falls back to a minimal draft carrying the raw reply.
func parseLetter(reply, purpose string) *domain.LetterDraft {
	trimmed := strings.TrimSpace(reply)
	if m := codeFenceRe.FindStringSubmatch(trimmed); m != nil {
		trimmed = m[1]
	}
	var letter domain.LetterDraft
	if err := json.Unmarshal([]byte(trimmed), &letter); err == nil && letter.Body != "" {
		if len(letter.Placeholders) == 0 {
			letter.Placeholders = []string{"recipient_name", "sender_name"}
		}
		return &letter
	}
	return &domain.LetterDraft{
		Subject:      "Regarding: " + purpose,
		Body:         reply,
		Placeholders: []string{"recipient_name", "sender_name"},
	}
}
