package eval

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyavari/ohs-copilot/internal/agent"
	"github.com/moyavari/ohs-copilot/internal/audit"
	"github.com/moyavari/ohs-copilot/internal/domain"
	"github.com/moyavari/ohs-copilot/internal/governance"
	"github.com/moyavari/ohs-copilot/internal/llm"
	"github.com/moyavari/ohs-copilot/internal/memory"
	"github.com/moyavari/ohs-copilot/internal/orchestrator"
	"github.com/moyavari/ohs-copilot/internal/vectorstore"
)

const goldenCSV = `id,question,mustContain,mustCiteTitle,category
q1,How do I report a workplace incident?,24 hours,Incident Reporting Procedures,reporting
q2,How do I report a workplace incident?,nonexistent phrase,Incident Reporting Procedures,reporting
`

func newHarness(t *testing.T) *Harness {
	t.Helper()
	emb := llm.NewDemoEmbedder(64, 0)
	store := vectorstore.NewJSONStore(filepath.Join(t.TempDir(), "v.json"), 64)
	ctx := context.Background()
	require.NoError(t, store.Initialize(ctx))
	chunk := domain.NewChunk("inc",
		"All workplace incidents must be reported within 24 hours using Form WS-101.",
		"Incident Reporting Procedures", "Reporting", "docs/inc.md")
	vec, err := emb.Embed(ctx, chunk.Text)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, domain.EmbeddedChunk{Chunk: chunk, Vector: vec}))

	client := llm.NewDemoClient()
	registry := governance.NewPromptRegistry()
	orch := orchestrator.New(orchestrator.Deps{
		Router:      agent.NewRouter(memory.NewMemoryStore(10)),
		Retriever:   agent.NewRetriever(store, emb, 10, 4096),
		Drafter:     agent.NewDrafter(client, registry),
		CiteChecker: agent.NewCiteChecker(),
		Registry:    registry,
		AuditLog:    audit.NewMemoryStore(),
		Model:       client,
	}, orchestrator.Options{})
	return New(orch)
}

func TestParseDataset(t *testing.T) {
	cases, err := ParseDataset(strings.NewReader(goldenCSV))
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "q1", cases[0].ID)
	assert.Equal(t, "24 hours", cases[0].MustContain)
}

func TestHarnessScoring(t *testing.T) {
	h := newHarness(t)
	cases, err := ParseDataset(strings.NewReader(goldenCSV))
	require.NoError(t, err)

	report := h.Run(context.Background(), cases)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].Passed)
	assert.False(t, report.Results[1].Passed)
	assert.Contains(t, report.Results[1].Failures[0], "nonexistent phrase")
	assert.InDelta(t, 0.5, report.PassRate(), 0.001)
}

func TestWriteReport(t *testing.T) {
	h := newHarness(t)
	cases, _ := ParseDataset(strings.NewReader(goldenCSV))
	report := h.Run(context.Background(), cases)

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, report))
	out := buf.String()
	assert.Contains(t, out, "PASS  q1")
	assert.Contains(t, out, "FAIL  q2")
	assert.Contains(t, out, "1/2 passed")
}
