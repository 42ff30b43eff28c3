package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/moyavari/ohs-copilot/internal/agent"
	"github.com/moyavari/ohs-copilot/internal/audit"
	"github.com/moyavari/ohs-copilot/internal/domain"
	"github.com/moyavari/ohs-copilot/internal/fixtures"
	"github.com/moyavari/ohs-copilot/internal/governance"
	"github.com/moyavari/ohs-copilot/internal/llm"
	"github.com/moyavari/ohs-copilot/internal/memory"
	"github.com/moyavari/ohs-copilot/internal/observability"
)

const (
	inputModerationStage  = "input_moderation"
	outputModerationStage = "output_moderation"
)

// Deps are the collaborators the orchestrator sequences. All are long-lived
// process-wide instances injected at startup.
type Deps struct {
	Router      agent.Agent
	Retriever   agent.Agent
	Drafter     agent.Agent
	CiteChecker agent.Agent

	Moderator governance.Moderator
	Redactor  *governance.Redactor
	Registry  *governance.PromptRegistry
	AuditLog  audit.Store
	Memory    memory.Store
	Fixtures  *fixtures.Service
	Model     llm.Client
}

// Options tune per-request behavior.
type Options struct {
	DemoMode         bool
	RedactionEnabled bool
	StageTimeout     time.Duration
	RequestTimeout   time.Duration
}

// Orchestrator runs the Router → Retriever → Drafter → CiteChecker pipeline
// with the governance overlay around it. Hard stages fail fast; soft stages
// (cite checking, audit writes, memory updates) never block a computed
// reply.
type Orchestrator struct {
	deps Deps
	opts Options
}

// New wires an orchestrator. Zero timeouts fall back to 30s per stage and
// 60s per request.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 30 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	return &Orchestrator{deps: deps, opts: opts}
}

// ProcessAsk answers a grounded question.
func (o *Orchestrator) ProcessAsk(ctx context.Context, req *domain.AskRequest) (*AskResponse, error) {
	if req == nil || req.Question == "" {
		return nil, fmt.Errorf("%w: question is required", domain.ErrValidation)
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()

	correlationID := observability.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}

	if o.opts.DemoMode && o.deps.Fixtures != nil {
		if resp, ok := o.askShortCircuit(ctx, req, correlationID); ok {
			return resp, nil
		}
	}

	ac := agent.NewContext(correlationID, req)
	auditID := o.openAudit(ctx, domain.AuditEntry{
		Operation:     domain.OpAsk,
		UserID:        req.UserID,
		CorrelationID: correlationID,
		Model:         o.modelName(),
		Inputs:        map[string]string{"question": req.Question},
	})
	ac.AuditID = auditID

	if err := o.moderateInput(ctx, auditID, req.Question); err != nil {
		return nil, err
	}

	if err := o.runHardStages(ctx, ac); err != nil {
		return nil, err
	}
	o.runSoftStage(ctx, ac, o.deps.CiteChecker)

	if ac.Answer == nil {
		o.closeAuditWithError(ctx, auditID, fmt.Errorf("drafter produced no answer"))
		return nil, fmt.Errorf("drafter produced no answer")
	}

	warnings, err := o.moderateOutput(ctx, auditID, ac.Answer.Content)
	if err != nil {
		return nil, err
	}
	if o.opts.RedactionEnabled && o.deps.Redactor != nil {
		res := o.deps.Redactor.Redact(ac.Answer.Content)
		if len(res.Matches) > 0 {
			ac.Answer = &domain.Answer{Content: res.Redacted, Citations: ac.Answer.Citations}
		}
	}

	total := traceTotal(ac.Traces)
	o.closeAudit(ctx, ac, map[string]string{"response": ac.Answer.Content}, total)

	if req.ConversationID != "" {
		o.updateMemory(ctx, req.ConversationID, req.UserID, domain.Turn{
			UserMessage:       req.Question,
			AssistantResponse: ac.Answer.Content,
			CitationIDs:       citationIDs(ac.Answer.Citations),
		})
	}

	return &AskResponse{
		Answer:    ac.Answer.Content,
		Citations: ac.Answer.Citations,
		Metadata: Metadata{
			ProcessingTimeMs: total.Milliseconds(),
			PromptSha:        ac.PromptHash,
			AgentTraces:      ac.Traces,
			CorrelationID:    correlationID,
			Timestamp:        time.Now().UTC(),
			Warnings:         warnings,
		},
	}, nil
}

// ProcessDraft generates a letter draft.
func (o *Orchestrator) ProcessDraft(ctx context.Context, req *domain.DraftRequest) (*DraftResponse, error) {
	if req == nil || req.Purpose == "" {
		return nil, fmt.Errorf("%w: purpose is required", domain.ErrValidation)
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()

	correlationID := observability.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}

	if o.opts.DemoMode && o.deps.Fixtures != nil {
		if resp, ok := o.draftShortCircuit(ctx, req, correlationID); ok {
			return resp, nil
		}
	}

	ac := agent.NewContext(correlationID, req)
	auditID := o.openAudit(ctx, domain.AuditEntry{
		Operation:     domain.OpDraft,
		UserID:        req.UserID,
		CorrelationID: correlationID,
		Model:         o.modelName(),
		Inputs:        map[string]string{"purpose": req.Purpose},
	})
	ac.AuditID = auditID

	if err := o.moderateInput(ctx, auditID, req.Purpose); err != nil {
		return nil, err
	}

	if err := o.runHardStages(ctx, ac); err != nil {
		return nil, err
	}
	o.runSoftStage(ctx, ac, o.deps.CiteChecker)

	if ac.LetterDraft == nil {
		o.closeAuditWithError(ctx, auditID, fmt.Errorf("drafter produced no letter"))
		return nil, fmt.Errorf("drafter produced no letter")
	}

	warnings, err := o.moderateOutput(ctx, auditID, ac.LetterDraft.Body)
	if err != nil {
		return nil, err
	}
	if o.opts.RedactionEnabled && o.deps.Redactor != nil {
		res := o.deps.Redactor.Redact(ac.LetterDraft.Body)
		if len(res.Matches) > 0 {
			ac.LetterDraft = &domain.LetterDraft{
				Subject:      ac.LetterDraft.Subject,
				Body:         res.Redacted,
				Placeholders: ac.LetterDraft.Placeholders,
			}
		}
	}

	total := traceTotal(ac.Traces)
	o.closeAudit(ctx, ac, map[string]string{
		"subject": ac.LetterDraft.Subject,
		"body":    ac.LetterDraft.Body,
	}, total)

	if req.ConversationID != "" {
		o.updateMemory(ctx, req.ConversationID, req.UserID, domain.Turn{
			UserMessage:       req.Purpose,
			AssistantResponse: "Generated letter: " + ac.LetterDraft.Subject,
		})
	}

	var refs []string
	if ac.PolicyRefs != nil {
		refs = ac.PolicyRefs.References
	}
	return &DraftResponse{
		Subject:      ac.LetterDraft.Subject,
		Body:         ac.LetterDraft.Body,
		Placeholders: ac.LetterDraft.Placeholders,
		References:   refs,
		Metadata: Metadata{
			ProcessingTimeMs: total.Milliseconds(),
			PromptSha:        ac.PromptHash,
			AgentTraces:      ac.Traces,
			CorrelationID:    correlationID,
			Timestamp:        time.Now().UTC(),
			Warnings:         warnings,
		},
	}, nil
}

// runHardStages executes Router, Retriever and Drafter; any failure aborts
// the request and closes the audit with the failing stage.
func (o *Orchestrator) runHardStages(ctx context.Context, ac *agent.Context) error {
	for _, stage := range []agent.Agent{o.deps.Router, o.deps.Retriever, o.deps.Drafter} {
		if err := o.runStage(ctx, ac, stage); err != nil {
			o.closeAuditWithError(ctx, ac.AuditID, err)
			if ctx.Err() != nil {
				return fmt.Errorf("stage %s cancelled: %w", stage.Name(), ctx.Err())
			}
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}
	return nil
}

// runSoftStage runs a stage whose failure must never abort the pipeline.
func (o *Orchestrator) runSoftStage(ctx context.Context, ac *agent.Context, stage agent.Agent) {
	if err := o.runStage(ctx, ac, stage); err != nil {
		observability.Logger(ctx).Warn().Err(err).Str("stage", stage.Name()).Msg("soft stage failed, continuing")
	}
}

func (o *Orchestrator) runStage(ctx context.Context, ac *agent.Context, stage agent.Agent) error {
	sctx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
	defer cancel()
	before := len(ac.Traces)
	err := stage.Execute(sctx, ac)
	// persist any traces the stage produced, even on failure
	for _, trace := range ac.Traces[before:] {
		if aerr := o.deps.AuditLog.AppendAgentTrace(ctx, ac.AuditID, trace); aerr != nil {
			observability.Logger(ctx).Warn().Err(aerr).Msg("audit trace write failed")
		}
	}
	return err
}

func (o *Orchestrator) moderateInput(ctx context.Context, auditID, text string) error {
	if o.deps.Moderator == nil {
		return nil
	}
	result, err := o.deps.Moderator.Moderate(ctx, text)
	if err != nil {
		// fail-open: redaction remains the second line of defense
		observability.Logger(ctx).Warn().Err(err).Msg("input moderation unavailable, allowing")
		return nil
	}
	if serr := o.deps.AuditLog.SetModeration(ctx, auditID, inputModerationStage, result); serr != nil {
		observability.Logger(ctx).Warn().Err(serr).Msg("audit moderation write failed")
	}
	if result.Action == domain.ActionBlock {
		o.closeAuditWithError(ctx, auditID, domain.ErrModerationBlocked)
		return fmt.Errorf("input stage: %w", domain.ErrModerationBlocked)
	}
	return nil
}

func (o *Orchestrator) moderateOutput(ctx context.Context, auditID, text string) ([]string, error) {
	if o.deps.Moderator == nil {
		return nil, nil
	}
	result, err := o.deps.Moderator.Moderate(ctx, text)
	if err != nil {
		observability.Logger(ctx).Warn().Err(err).Msg("output moderation unavailable, allowing")
		return nil, nil
	}
	if serr := o.deps.AuditLog.SetModeration(ctx, auditID, outputModerationStage, result); serr != nil {
		observability.Logger(ctx).Warn().Err(serr).Msg("audit moderation write failed")
	}
	switch result.Action {
	case domain.ActionBlock:
		o.closeAuditWithError(ctx, auditID, domain.ErrModerationBlocked)
		return nil, fmt.Errorf("output stage: %w", domain.ErrModerationBlocked)
	case domain.ActionAllowWithWarning:
		return []string{"output flagged by moderation"}, nil
	default:
		return nil, nil
	}
}

func (o *Orchestrator) openAudit(ctx context.Context, entry domain.AuditEntry) string {
	id, err := o.deps.AuditLog.Open(ctx, entry)
	if err != nil {
		observability.Logger(ctx).Warn().Err(err).Msg("audit open failed")
		return ""
	}
	return id
}

// closeAudit writes outputs, cited chunk ids, the prompt hash and token
// usage. Audit failures are logged; the reply still goes out.
func (o *Orchestrator) closeAudit(ctx context.Context, ac *agent.Context, outputs map[string]string, total time.Duration) {
	log := observability.Logger(ctx)
	chunkIDs := make([]string, 0, len(ac.SearchResults))
	for _, r := range ac.SearchResults {
		chunkIDs = append(chunkIDs, r.Chunk.ID)
	}
	if err := o.deps.AuditLog.AppendOutputs(ctx, ac.AuditID, outputs, chunkIDs, total); err != nil {
		log.Warn().Err(err).Msg("audit outputs write failed")
	}
	if ac.PromptHash != "" {
		if err := o.deps.AuditLog.SetPromptHash(ctx, ac.AuditID, ac.PromptHash); err != nil {
			log.Warn().Err(err).Msg("audit prompt hash write failed")
		}
		if o.deps.Registry != nil {
			if pv, ok := o.deps.Registry.GetByHash(ac.PromptHash); ok {
				inTokens := agent.EstimateTokens(pv.Content)
				var outTokens int
				for _, v := range outputs {
					outTokens += agent.EstimateTokens(v)
				}
				if err := o.deps.AuditLog.SetTokenUsage(ctx, ac.AuditID, inTokens, outTokens); err != nil {
					log.Warn().Err(err).Msg("audit token usage write failed")
				}
			}
		}
	}
}

func (o *Orchestrator) closeAuditWithError(ctx context.Context, auditID string, err error) {
	if auditID == "" {
		return
	}
	werr := o.deps.AuditLog.AppendOutputs(ctx, auditID, map[string]string{"error": err.Error()}, nil, 0)
	if werr != nil {
		observability.Logger(ctx).Warn().Err(werr).Msg("audit error write failed")
	}
}

// updateMemory is a soft stage: a failed write is logged, never surfaced.
func (o *Orchestrator) updateMemory(ctx context.Context, conversationID, userID string, turn domain.Turn) {
	if o.deps.Memory == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if err := o.deps.Memory.AppendTurn(ctx, conversationID, userID, turn); err != nil {
		observability.Logger(ctx).Warn().Err(err).Str("conversation_id", conversationID).Msg("memory update failed")
	}
}

func (o *Orchestrator) askShortCircuit(ctx context.Context, req *domain.AskRequest, correlationID string) (*AskResponse, bool) {
	fixture, ok := o.deps.Fixtures.MatchAsk(req.Question)
	sig := fixtures.Signature(req.Question)
	_ = o.deps.Fixtures.RecordTrace(fixtures.TraceRecord{
		Operation:     string(domain.OpAsk),
		Signature:     sig,
		CorrelationID: correlationID,
		Matched:       ok,
	})
	if !ok {
		return nil, false
	}
	hash := fixtures.DemoHashPrefix + governance.HashPrompt(req.Question)[:16]
	auditID := o.openAudit(ctx, domain.AuditEntry{
		Operation:     domain.OpAsk,
		UserID:        req.UserID,
		CorrelationID: correlationID,
		PromptHash:    hash,
		Model:         "demo-fixture",
		Inputs:        map[string]string{"question": req.Question, "demo_short_circuit": "true"},
	})
	if err := o.deps.AuditLog.AppendOutputs(ctx, auditID, map[string]string{"response": fixture.Answer}, citationIDs(fixture.Citations), 0); err != nil {
		observability.Logger(ctx).Warn().Err(err).Msg("audit outputs write failed")
	}
	if req.ConversationID != "" {
		o.updateMemory(ctx, req.ConversationID, req.UserID, domain.Turn{
			UserMessage:       req.Question,
			AssistantResponse: fixture.Answer,
			CitationIDs:       citationIDs(fixture.Citations),
		})
	}
	return &AskResponse{
		Answer:    fixture.Answer,
		Citations: fixture.Citations,
		Metadata: Metadata{
			PromptSha:     hash,
			CorrelationID: correlationID,
			Timestamp:     time.Now().UTC(),
		},
	}, true
}

func (o *Orchestrator) draftShortCircuit(ctx context.Context, req *domain.DraftRequest, correlationID string) (*DraftResponse, bool) {
	fixture, ok := o.deps.Fixtures.MatchLetter(req.Purpose)
	sig := fixtures.Signature(req.Purpose)
	_ = o.deps.Fixtures.RecordTrace(fixtures.TraceRecord{
		Operation:     string(domain.OpDraft),
		Signature:     sig,
		CorrelationID: correlationID,
		Matched:       ok,
	})
	if !ok {
		return nil, false
	}
	hash := fixtures.DemoHashPrefix + governance.HashPrompt(req.Purpose)[:16]
	auditID := o.openAudit(ctx, domain.AuditEntry{
		Operation:     domain.OpDraft,
		UserID:        req.UserID,
		CorrelationID: correlationID,
		PromptHash:    hash,
		Model:         "demo-fixture",
		Inputs:        map[string]string{"purpose": req.Purpose, "demo_short_circuit": "true"},
	})
	outputs := map[string]string{"subject": fixture.Letter.Subject, "body": fixture.Letter.Body}
	if err := o.deps.AuditLog.AppendOutputs(ctx, auditID, outputs, nil, 0); err != nil {
		observability.Logger(ctx).Warn().Err(err).Msg("audit outputs write failed")
	}
	return &DraftResponse{
		Subject:      fixture.Letter.Subject,
		Body:         fixture.Letter.Body,
		Placeholders: fixture.Letter.Placeholders,
		Metadata: Metadata{
			PromptSha:     hash,
			CorrelationID: correlationID,
			Timestamp:     time.Now().UTC(),
		},
	}, true
}

func (o *Orchestrator) modelName() string {
	if o.deps.Model == nil {
		return ""
	}
	return o.deps.Model.Model()
}

func traceTotal(traces []domain.AgentTrace) time.Duration {
	var total time.Duration
	for _, t := range traces {
		total += t.Duration
	}
	return total
}

func citationIDs(citations []domain.Citation) []string {
	ids := make([]string, 0, len(citations))
	for _, c := range citations {
		ids = append(ids, c.ID)
	}
	return ids
}
