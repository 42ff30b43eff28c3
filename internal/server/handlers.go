package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/moyavari/ohs-copilot/internal/domain"
	"github.com/moyavari/ohs-copilot/internal/eval"
	"github.com/moyavari/ohs-copilot/internal/ingest"
	"github.com/moyavari/ohs-copilot/internal/observability"
)

// errorBody is the standard error shape for every endpoint.
type errorBody struct {
	Error         string            `json:"error"`
	Message       string            `json:"message"`
	Details       map[string]string `json:"details,omitempty"`
	CorrelationID string            `json:"correlationId"`
	Timestamp     time.Time         `json:"timestamp"`
}

func (s *Server) errorResponse(c echo.Context, status int, code, message string, details map[string]string) error {
	return c.JSON(status, errorBody{
		Error:         code,
		Message:       message,
		Details:       details,
		CorrelationID: observability.CorrelationID(c.Request().Context()),
		Timestamp:     time.Now().UTC(),
	})
}

// pipelineError maps core errors onto HTTP statuses per the error table.
func (s *Server) pipelineError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNoQuery):
		return s.errorResponse(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, domain.ErrModerationBlocked):
		return s.errorResponse(c, http.StatusBadRequest, "moderation_blocked", "content blocked by moderation policy", nil)
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrNotInitialized):
		return s.errorResponse(c, http.StatusServiceUnavailable, "store_unavailable", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		return s.errorResponse(c, http.StatusGatewayTimeout, "timeout", "request timed out", nil)
	case errors.Is(err, context.Canceled):
		return s.errorResponse(c, 499, "cancelled", "request cancelled", nil)
	default:
		return s.errorResponse(c, http.StatusServiceUnavailable, "upstream_error", err.Error(), nil)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	deps := map[string]bool{}
	healthy := true
	if s.vector != nil {
		ok := s.vector.HealthCheck(ctx)
		deps["vectorStore"] = ok
		healthy = healthy && ok
	}
	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{
		"ok":           healthy,
		"status":       status,
		"version":      Version,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"dependencies": deps,
	})
}

func (s *Server) handleMetrics(c echo.Context) error {
	total := s.totalRequests.Load()
	var avg float64
	if total > 0 {
		avg = float64(s.totalLatency.Load()) / float64(total)
	}
	var errRate float64
	if total > 0 {
		errRate = float64(s.totalErrors.Load()) / float64(total)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"totalRequests":       total,
		"averageResponseTime": avg,
		"errorRate":           errRate,
		"uptimeSeconds":       int64(time.Since(s.started).Seconds()),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAsk(c echo.Context) error {
	var req domain.AskRequest
	if err := c.Bind(&req); err != nil {
		return s.errorResponse(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
	}
	resp, err := s.orch.ProcessAsk(c.Request().Context(), &req)
	if err != nil {
		return s.pipelineError(c, err)
	}
	if !req.IncludeMetadata {
		resp.Metadata.AgentTraces = nil
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDraftLetter(c echo.Context) error {
	var req domain.DraftRequest
	if err := c.Bind(&req); err != nil {
		return s.errorResponse(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
	}
	resp, err := s.orch.ProcessDraft(c.Request().Context(), &req)
	if err != nil {
		return s.pipelineError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleIngest(c echo.Context) error {
	var req ingest.Request
	if err := c.Bind(&req); err != nil {
		return s.errorResponse(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
	}
	if len(req.Chunks) == 0 {
		return s.errorResponse(c, http.StatusBadRequest, "validation_error", "chunks are required", nil)
	}
	res, err := s.ingestor.Ingest(c.Request().Context(), req)
	if err != nil {
		return s.pipelineError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetConversation(c echo.Context) error {
	conv, err := s.memory.GetConversation(c.Request().Context(), c.Param("id"))
	if errors.Is(err, domain.ErrNotFound) {
		return s.errorResponse(c, http.StatusNotFound, "not_found", "conversation not found", nil)
	}
	if err != nil {
		return s.pipelineError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleGetPersona(c echo.Context) error {
	persona, err := s.memory.GetPersona(c.Request().Context(), c.Param("userId"))
	if err != nil {
		return s.pipelineError(c, err)
	}
	return c.JSON(http.StatusOK, persona)
}

func (s *Server) handlePutPersona(c echo.Context) error {
	var persona domain.PersonaMemory
	if err := c.Bind(&persona); err != nil {
		return s.errorResponse(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
	}
	persona.UserID = c.Param("userId")
	switch persona.Variant {
	case domain.PersonaInspector, domain.PersonaClaimsAdjudicator, domain.PersonaPolicyAnalyst, domain.PersonaAdministrator:
	default:
		return s.errorResponse(c, http.StatusBadRequest, "validation_error", "unknown persona variant", map[string]string{"variant": string(persona.Variant)})
	}
	if err := s.memory.PutPersona(c.Request().Context(), persona); err != nil {
		return s.pipelineError(c, err)
	}
	return c.JSON(http.StatusOK, persona)
}

func (s *Server) handleSearchPolicies(c echo.Context) error {
	limit := 10
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	hits, err := s.memory.SearchPolicies(c.Request().Context(), c.QueryParam("q"), limit)
	if err != nil {
		return s.pipelineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"results": hits, "count": len(hits)})
}

func (s *Server) handleAuditLogs(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		count, err := s.auditLog.Count(c.Request().Context())
		if err != nil {
			return s.pipelineError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"count": count})
	}
	entries, err := s.auditLog.QueryByUser(c.Request().Context(), userID, time.Time{}, time.Time{})
	if err != nil {
		return s.pipelineError(c, err)
	}
	if op := c.QueryParam("operation"); op != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if strings.EqualFold(string(e.Operation), op) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < len(entries) {
			entries = entries[:n]
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handlePromptVersions(c echo.Context) error {
	name := c.QueryParam("promptName")
	if name == "" {
		return s.errorResponse(c, http.StatusBadRequest, "validation_error", "promptName is required", nil)
	}
	return c.JSON(http.StatusOK, map[string]any{"versions": s.registry.GetHistory(name)})
}

// handleEval runs the golden dataset posted as CSV and returns the report.
func (s *Server) handleEval(c echo.Context) error {
	cases, err := eval.ParseDataset(c.Request().Body)
	if err != nil {
		return s.errorResponse(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	}
	report := s.eval.Run(c.Request().Context(), cases)
	return c.JSON(http.StatusOK, map[string]any{
		"total":    report.Total,
		"passed":   report.Passed,
		"failed":   report.Failed,
		"passRate": report.PassRate(),
	})
}
