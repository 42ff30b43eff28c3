package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
	"github.com/moyavari/ohs-copilot/internal/memory"
	"github.com/moyavari/ohs-copilot/internal/observability"
)

// Router classifies the raw request, extracts its public fields into the
// parameter map, and loads conversation and persona memory onto the context.
type Router struct {
	memory memory.Store
}

// NewRouter builds the router stage.
func NewRouter(mem memory.Store) *Router {
	return &Router{memory: mem}
}

func (r *Router) Name() string { return "router" }

func (r *Router) Execute(ctx context.Context, ac *Context) error {
	start := time.Now()
	defer func() { ac.AddTrace(r.Name(), "classify", string(ac.RequestType), time.Since(start)) }()

	if ac.Request == nil {
		return fmt.Errorf("router: missing request")
	}
	switch req := ac.Request.(type) {
	case *domain.AskRequest:
		ac.RequestType = RequestAsk
		ac.ConversationID = req.ConversationID
		ac.UserID = req.UserID
		ac.Params["question"] = req.Question
		if req.MaxTokens > 0 {
			ac.Params["maxtokens"] = strconv.Itoa(req.MaxTokens)
		}
	case *domain.DraftRequest:
		ac.RequestType = RequestDraft
		ac.ConversationID = req.ConversationID
		ac.UserID = req.UserID
		ac.Params["purpose"] = req.Purpose
		ac.Params["points"] = strings.Join(req.Points, "\n")
		ac.Params["recipient"] = req.Recipient
		ac.Params["tone"] = req.Tone
		if req.MaxTokens > 0 {
			ac.Params["maxtokens"] = strconv.Itoa(req.MaxTokens)
		}
	default:
		ac.RequestType = RequestUnknown
	}

	r.loadMemories(ctx, ac)
	return nil
}

// loadMemories is best-effort: a memory miss never fails routing.
func (r *Router) loadMemories(ctx context.Context, ac *Context) {
	if r.memory == nil {
		return
	}
	log := observability.Logger(ctx)
	if ac.ConversationID != "" {
		conv, err := r.memory.GetConversation(ctx, ac.ConversationID)
		if err == nil {
			ac.Conversation = &conv
		} else if !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Str("conversation_id", ac.ConversationID).Msg("load conversation memory")
		}
	}
	if ac.UserID != "" {
		persona, err := r.memory.GetPersona(ctx, ac.UserID)
		if err == nil {
			ac.Persona = &persona
		} else {
			log.Warn().Err(err).Str("user_id", ac.UserID).Msg("load persona memory")
		}
	}
}
