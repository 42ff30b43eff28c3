package llm

import "context"

// Embedder converts text into fixed-dimension vectors. Errors propagate with
// provider context; callers retry nothing automatically.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Client produces a completion for a fully assembled prompt. Retries, if
// any, are decided per stage by the orchestrator, never here.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}
