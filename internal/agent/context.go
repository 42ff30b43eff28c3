package agent

import (
	"context"
	"strings"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
	"github.com/moyavari/ohs-copilot/internal/vectorstore"
)

// RequestType classifies what the caller asked for.
type RequestType string

const (
	RequestAsk     RequestType = "ask"
	RequestDraft   RequestType = "draft"
	RequestIngest  RequestType = "ingest"
	RequestUnknown RequestType = "unknown"
)

// Context is the per-request scratch space agents hand each other. It is
// created fresh per request and never shared across requests, so it carries
// no locks. The fields form the closed set of keys stages may exchange.
type Context struct {
	CorrelationID  string
	ConversationID string
	UserID         string

	Request     any
	RequestType RequestType
	Params      map[string]string

	SearchResults []vectorstore.SearchResult
	ContextChunks []string
	Citations     []domain.Citation

	Answer      *domain.Answer
	LetterDraft *domain.LetterDraft
	PolicyRefs  *domain.PolicyValidationResult
	PromptHash  string

	Conversation *domain.ConversationMemory
	Persona      *domain.PersonaMemory

	AuditID string
	Traces  []domain.AgentTrace
}

// NewContext builds a request context around the raw request value.
func NewContext(correlationID string, request any) *Context {
	return &Context{
		CorrelationID: correlationID,
		Request:       request,
		Params:        make(map[string]string),
	}
}

// Param returns a parameter by case-insensitive name.
func (c *Context) Param(name string) (string, bool) {
	if v, ok := c.Params[name]; ok {
		return v, true
	}
	for k, v := range c.Params {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// AddTrace appends one stage trace.
func (c *Context) AddTrace(agent, tool, args string, d time.Duration) {
	c.Traces = append(c.Traces, domain.AgentTrace{Agent: agent, Tool: tool, Args: args, Duration: d})
}

// Agent is one pipeline stage. Execute mutates the request context in place
// and returns an error only when the stage hard-fails.
type Agent interface {
	Name() string
	Execute(ctx context.Context, ac *Context) error
}
