package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyavari/ohs-copilot/internal/agent"
	"github.com/moyavari/ohs-copilot/internal/audit"
	"github.com/moyavari/ohs-copilot/internal/config"
	"github.com/moyavari/ohs-copilot/internal/domain"
	"github.com/moyavari/ohs-copilot/internal/eval"
	"github.com/moyavari/ohs-copilot/internal/fixtures"
	"github.com/moyavari/ohs-copilot/internal/governance"
	"github.com/moyavari/ohs-copilot/internal/ingest"
	"github.com/moyavari/ohs-copilot/internal/llm"
	"github.com/moyavari/ohs-copilot/internal/memory"
	"github.com/moyavari/ohs-copilot/internal/orchestrator"
	"github.com/moyavari/ohs-copilot/internal/vectorstore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.DemoMode = true
	cfg.VectorStore.Dimensions = 64
	cfg.FixturesPath = filepath.Join(t.TempDir(), "fixtures")
	cfg.TracePath = filepath.Join(t.TempDir(), "traces")

	emb := llm.NewDemoEmbedder(64, 0)
	client := llm.NewDemoClient()
	store := vectorstore.NewJSONStore(filepath.Join(t.TempDir(), "v.json"), 64)
	require.NoError(t, store.Initialize(context.Background()))
	mem := memory.NewMemoryStore(10)
	auditLog := audit.NewMemoryStore()
	registry := governance.NewPromptRegistry()
	fx, err := fixtures.Load(cfg.FixturesPath, cfg.TracePath)
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Deps{
		Router:      agent.NewRouter(mem),
		Retriever:   agent.NewRetriever(store, emb, 10, 4096),
		Drafter:     agent.NewDrafter(client, registry),
		CiteChecker: agent.NewCiteChecker(),
		Moderator:   governance.NewLocalModerator("Medium"),
		Redactor:    governance.NewRedactor(),
		Registry:    registry,
		AuditLog:    auditLog,
		Memory:      mem,
		Fixtures:    fx,
		Model:       client,
	}, orchestrator.Options{DemoMode: true, RedactionEnabled: true})

	return New(cfg, Deps{
		Orchestrator: orch,
		Ingestor:     ingest.New(store, emb, auditLog),
		Harness:      eval.New(orch),
		Vector:       store,
		Memory:       mem,
		AuditLog:     auditLog,
		Registry:     registry,
		Embedder:     emb,
	})
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestAskEndpointDemo(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/ask", `{"question":"What PPE is required for construction work?","maxTokens":500}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp orchestrator.AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Answer, "hard hats")
	assert.True(t, strings.HasPrefix(resp.Metadata.PromptSha, "DEMO_"))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
	assert.NotEmpty(t, rec.Header().Get("X-Processing-Time"))
	assert.Equal(t, Version, rec.Header().Get("X-API-Version"))
}

func TestAskEndpointValidation(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/ask", `{"question":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Error)
	assert.NotEmpty(t, body.CorrelationID)
}

func TestCorrelationIDEchoed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Correlation-ID", "fixed-id")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Correlation-ID"))
}

func TestIngestAndConversationEndpoints(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/ingest",
		`{"chunks":[{"id":"c1","text":"Hard hats required.","title":"PPE","section":"General"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/conversations/none", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPersonaEndpoints(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/personas/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var persona domain.PersonaMemory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &persona))
	assert.Equal(t, domain.PersonaAdministrator, persona.Variant)

	rec = doJSON(t, s, http.MethodPost, "/api/personas/u1", `{"variant":"Inspector","profile":{"role":"inspector"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/personas/u1", `{"variant":"Wizard"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpointCounts(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodGet, "/api/health", "")
	rec := doJSON(t, s, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.GreaterOrEqual(t, body["totalRequests"].(float64), float64(1))
}

func TestPromptVersionsRequiresName(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/prompt-versions", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
