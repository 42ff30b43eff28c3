package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/moyavari/ohs-copilot/internal/audit"
	"github.com/moyavari/ohs-copilot/internal/config"
	"github.com/moyavari/ohs-copilot/internal/eval"
	"github.com/moyavari/ohs-copilot/internal/governance"
	"github.com/moyavari/ohs-copilot/internal/ingest"
	"github.com/moyavari/ohs-copilot/internal/llm"
	"github.com/moyavari/ohs-copilot/internal/memory"
	"github.com/moyavari/ohs-copilot/internal/observability"
	"github.com/moyavari/ohs-copilot/internal/orchestrator"
	"github.com/moyavari/ohs-copilot/internal/vectorstore"
)

// Version is the API version echoed on every response.
const Version = "1.0"

// Server is the thin HTTP surface over the core. All heavy lifting lives in
// the orchestrator and the stores.
type Server struct {
	echo *echo.Echo
	cfg  *config.Config

	orch     *orchestrator.Orchestrator
	ingestor *ingest.Service
	eval     *eval.Harness

	vector   vectorstore.Store
	memory   memory.Store
	auditLog audit.Store
	registry *governance.PromptRegistry
	embedder llm.Embedder

	started       time.Time
	totalRequests atomic.Int64
	totalErrors   atomic.Int64
	totalLatency  atomic.Int64 // milliseconds
}

// Deps carries the wired collaborators into the server.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Ingestor     *ingest.Service
	Harness      *eval.Harness
	Vector       vectorstore.Store
	Memory       memory.Store
	AuditLog     audit.Store
	Registry     *governance.PromptRegistry
	Embedder     llm.Embedder
}

// New builds the echo application with all routes registered.
func New(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		cfg:      cfg,
		orch:     deps.Orchestrator,
		ingestor: deps.Ingestor,
		eval:     deps.Harness,
		vector:   deps.Vector,
		memory:   deps.Memory,
		auditLog: deps.AuditLog,
		registry: deps.Registry,
		embedder: deps.Embedder,
		started:  time.Now(),
	}

	e.Use(middleware.Recover())
	e.Use(s.correlationMiddleware)
	e.Use(s.metricsMiddleware)
	if cfg.MaxConcurrentRequests > 0 {
		e.Use(s.admissionMiddleware(cfg.MaxConcurrentRequests))
	}

	s.registerRoutes()
	return s
}

// Start blocks serving HTTP until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()
	log.Info().Str("addr", addr).Msg("server listening")
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(sctx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) registerRoutes() {
	api := s.echo.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/metrics", s.handleMetrics)
	api.POST("/ask", s.handleAsk)
	api.POST("/draft-letter", s.handleDraftLetter)
	api.POST("/ingest", s.handleIngest)
	api.GET("/conversations/:id", s.handleGetConversation)
	api.GET("/personas/:userId", s.handleGetPersona)
	api.POST("/personas/:userId", s.handlePutPersona)
	api.GET("/policies/search", s.handleSearchPolicies)
	api.GET("/audit-logs", s.handleAuditLogs)
	api.GET("/prompt-versions", s.handlePromptVersions)
	api.POST("/eval", s.handleEval)
}

func (s *Server) correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		correlationID := c.Request().Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		ctx := observability.WithCorrelationID(c.Request().Context(), correlationID)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set("X-Correlation-ID", correlationID)
		c.Response().Header().Set("X-API-Version", Version)
		return next(c)
	}
}

func (s *Server) metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		elapsed := time.Since(start)
		c.Response().Header().Set("X-Processing-Time", fmt.Sprintf("%dms", elapsed.Milliseconds()))
		s.totalRequests.Add(1)
		s.totalLatency.Add(elapsed.Milliseconds())
		if err != nil || c.Response().Status >= http.StatusInternalServerError {
			s.totalErrors.Add(1)
		}
		return err
	}
}

// admissionMiddleware bounds in-flight requests; excess callers get 429.
func (s *Server) admissionMiddleware(limit int) echo.MiddlewareFunc {
	sem := make(chan struct{}, limit)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				return next(c)
			default:
				return s.errorResponse(c, http.StatusTooManyRequests, "rate_limited", "too many concurrent requests", nil)
			}
		}
	}
}
