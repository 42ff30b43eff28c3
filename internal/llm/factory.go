package llm

import (
	"fmt"

	"github.com/moyavari/ohs-copilot/internal/config"
)

// New resolves the configured provider into a completion client and an
// embedder. The anthropic provider still embeds through the OpenAI-compatible
// endpoint since Anthropic exposes no embeddings API.
func New(cfg config.LLMConfig, dimension int) (Client, Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		c, e := NewOpenAI(cfg, dimension)
		return c, e, nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY")
		}
		_, e := NewOpenAI(cfg, dimension)
		return NewAnthropic(cfg.AnthropicKey, cfg.ChatDeployment), e, nil
	case "demo":
		return NewDemoClient(), NewDemoEmbedder(dimension, 0), nil
	default:
		return nil, nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
