package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
	"github.com/moyavari/ohs-copilot/internal/llm"
	"github.com/moyavari/ohs-copilot/internal/observability"
	"github.com/moyavari/ohs-copilot/internal/vectorstore"
)

const (
	// minimum similarity for a search hit to be considered at all
	retrieverMinScore = 0.1
	// tokens reserved for the prompt skeleton around the context
	promptOverheadTokens = 300
	// citation excerpts are clipped to this many characters
	excerptLimit = 200
)

// Retriever embeds the query, searches the vector store, and packs as many
// hits as the token budget allows into source-tagged context strings.
type Retriever struct {
	store    vectorstore.Store
	embedder llm.Embedder

	defaultTopK      int
	defaultMaxTokens int
}

// NewRetriever builds the retrieval stage with the configured defaults.
func NewRetriever(store vectorstore.Store, embedder llm.Embedder, topK, maxTokens int) *Retriever {
	if topK <= 0 {
		topK = 10
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Retriever{store: store, embedder: embedder, defaultTopK: topK, defaultMaxTokens: maxTokens}
}

func (r *Retriever) Name() string { return "retriever" }

func (r *Retriever) Execute(ctx context.Context, ac *Context) error {
	start := time.Now()

	query, ok := r.query(ac)
	if !ok {
		return fmt.Errorf("retriever: %w", domain.ErrNoQuery)
	}
	topK := r.defaultTopK
	maxTokens := r.defaultMaxTokens
	if v, ok := ac.Param("topk"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			topK = n
		}
	}
	if v, ok := ac.Param("maxtokens"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxTokens = n
		}
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("retriever: embed query: %w", err)
	}
	results, err := r.store.Search(ctx, vector, topK, retrieverMinScore)
	if err != nil {
		return fmt.Errorf("retriever: search: %w", err)
	}
	ac.SearchResults = results

	budget := NewTokenBudget(maxTokens)
	overhead := promptOverheadTokens
	if overhead > budget.Remaining() {
		overhead = budget.Remaining()
	}
	_ = budget.Consume(overhead)

	ac.ContextChunks = packContext(results, budget)
	ac.Citations = buildCitations(results)

	ac.AddTrace(r.Name(), "vector_search",
		fmt.Sprintf("query=%q hits=%d packed=%d", query, len(results), len(ac.ContextChunks)),
		time.Since(start))
	observability.Logger(ctx).Debug().
		Int("hits", len(results)).
		Int("packed", len(ac.ContextChunks)).
		Msg("retrieval complete")
	return nil
}

// query reads the search query as "Question" for asks and "Purpose" for
// drafts, case-insensitively.
func (r *Retriever) query(ac *Context) (string, bool) {
	name := "question"
	if ac.RequestType == RequestDraft {
		name = "purpose"
	}
	v, ok := ac.Param(name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// packContext greedily accumulates hits in score order until the budget
// rejects one. Accumulation stops on the first rejection so the packed
// context stays prefix-ordered by score.
func packContext(results []vectorstore.SearchResult, budget *TokenBudget) []string {
	var chunks []string
	for _, res := range results {
		rendered := fmt.Sprintf("[Source: %s - %s]\n%s", res.Chunk.Title, res.Chunk.Section, res.Chunk.Text)
		cost := EstimateTokens(rendered)
		if err := budget.Consume(cost); err != nil {
			if errors.Is(err, domain.ErrOverBudget) {
				break
			}
			break
		}
		chunks = append(chunks, rendered)
	}
	return chunks
}

// buildCitations lists every candidate in rank order, not only those that
// fit the context window, so markers stay stable as budgets change.
func buildCitations(results []vectorstore.SearchResult) []domain.Citation {
	citations := make([]domain.Citation, 0, len(results))
	for i, res := range results {
		excerpt := res.Chunk.Text
		if len(excerpt) > excerptLimit {
			excerpt = excerpt[:excerptLimit] + "..."
		}
		citations = append(citations, domain.Citation{
			ID:      fmt.Sprintf("c%d", i+1),
			Score:   res.Score,
			Title:   res.Chunk.Title,
			Excerpt: excerpt,
			URL:     res.Chunk.SourcePath,
		})
	}
	return citations
}
