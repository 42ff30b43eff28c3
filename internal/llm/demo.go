package llm

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// DemoEmbedder produces deterministic vectors without a provider. Text is
// tokenized into lowercase words; each word, each word-prefix stem, and each
// adjacent-word pair becomes a signed bucket in a fixed-size vector, which
// is then L2-normalized. The stem feature lets a question about "incidents"
// land near a chunk about "incident reporting", which is the behavior demo
// retrieval needs from safety-policy text.
type DemoEmbedder struct {
	dim  int
	seed uint64
}

// stemLen is the prefix length used as a crude stem. Five characters keeps
// "report"/"reported" and "inspect"/"inspection" together without collapsing
// unrelated short words.
const stemLen = 5

// NewDemoEmbedder constructs a deterministic embedder with the given
// dimension. Seed perturbs bucket assignment.
func NewDemoEmbedder(dim int, seed uint64) *DemoEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &DemoEmbedder{dim: dim, seed: seed}
}

func (d *DemoEmbedder) Dimension() int { return d.dim }

func (d *DemoEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return d.embedOne(text), nil
}

func (d *DemoEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *DemoEmbedder) embedOne(text string) []float32 {
	v := make([]float32, d.dim)
	words := tokenizeWords(text)
	prev := ""
	for _, w := range words {
		d.bump(v, "w:"+w)
		if len(w) > stemLen {
			d.bump(v, "s:"+w[:stemLen])
		}
		if prev != "" {
			d.bump(v, "b:"+prev+" "+w)
		}
		prev = w
	}
	l2Normalize(v)
	return v
}

// bump folds one feature into the vector: the feature hash picks a bucket
// and its high bit picks the sign, so distinct features mostly cancel while
// shared features reinforce.
func (d *DemoEmbedder) bump(v []float32, feature string) {
	h := fnv.New64a()
	var seedBuf [8]byte
	for i := range seedBuf {
		seedBuf[i] = byte(d.seed >> (8 * i))
	}
	_, _ = h.Write(seedBuf[:])
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(v)))
	if sum&(1<<63) != 0 {
		v[idx]--
	} else {
		v[idx]++
	}
}

func tokenizeWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

var (
	sourceBlockRe = regexp.MustCompile(`(?m)^\[Source: ([^\]]+)\]\n(.+)$`)
	purposeLineRe = regexp.MustCompile(`(?m)^Purpose: (.+)$`)
	pointLineRe   = regexp.MustCompile(`(?m)^- (.+)$`)
)

// DemoClient is a scripted completion client. It answers ask prompts from
// the context blocks embedded in the prompt and letter prompts with a
// well-formed JSON letter, so the full pipeline runs without a provider.
type DemoClient struct{}

func NewDemoClient() *DemoClient { return &DemoClient{} }

func (c *DemoClient) Model() string { return "demo" }

func (c *DemoClient) Complete(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, `"subject"`) && strings.Contains(prompt, `"placeholders"`) {
		return c.completeLetter(prompt)
	}
	return c.completeAnswer(prompt), nil
}

func (c *DemoClient) completeAnswer(prompt string) string {
	blocks := sourceBlockRe.FindAllStringSubmatch(prompt, -1)
	if len(blocks) == 0 {
		return "I don't have enough information to answer this question."
	}
	var paras []string
	for i, b := range blocks {
		if i >= 2 {
			break
		}
		text := strings.TrimSpace(b[2])
		paras = append(paras, text+" [#"+string(rune('1'+i))+"]")
	}
	return strings.Join(paras, "\n\n")
}

func (c *DemoClient) completeLetter(prompt string) (string, error) {
	purpose := "your request"
	if m := purposeLineRe.FindStringSubmatch(prompt); m != nil {
		purpose = strings.TrimSpace(m[1])
	}
	var body strings.Builder
	body.WriteString("Dear {{recipient_name}},\n\n")
	body.WriteString("This letter is in regard to " + purpose + ".\n\n")
	for _, m := range pointLineRe.FindAllStringSubmatch(prompt, -1) {
		body.WriteString("- " + strings.TrimSpace(m[1]) + "\n")
	}
	body.WriteString("\nPlease contact {{sender_name}} with any questions.\n\nSincerely,\n{{sender_name}}")
	letter := map[string]any{
		"subject":      "Regarding: " + purpose,
		"body":         body.String(),
		"placeholders": []string{"recipient_name", "sender_name"},
	}
	out, err := json.Marshal(letter)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
