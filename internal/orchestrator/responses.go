package orchestrator

import (
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

// Metadata describes how a response was produced.
type Metadata struct {
	ProcessingTimeMs int64               `json:"processingTimeMs"`
	PromptSha        string              `json:"promptSha"`
	AgentTraces      []domain.AgentTrace `json:"agentTraces,omitempty"`
	CorrelationID    string              `json:"correlationId"`
	Timestamp        time.Time           `json:"timestamp"`
	Warnings         []string            `json:"warnings,omitempty"`
}

// AskResponse is the reply to an ask request.
type AskResponse struct {
	Answer    string            `json:"answer"`
	Citations []domain.Citation `json:"citations"`
	Metadata  Metadata          `json:"metadata"`
}

// DraftResponse is the reply to a draft-letter request.
type DraftResponse struct {
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	Placeholders []string `json:"placeholders"`
	References   []string `json:"references,omitempty"`
	Metadata     Metadata `json:"metadata"`
}
