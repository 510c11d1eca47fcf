// Package http serves the blueprint API over echo.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/blueprint/internal/approval"
	"github.com/fyrsmithlabs/blueprint/internal/artifact"
	"github.com/fyrsmithlabs/blueprint/internal/config"
	"github.com/fyrsmithlabs/blueprint/internal/gitexec"
	"github.com/fyrsmithlabs/blueprint/internal/logging"
	"github.com/fyrsmithlabs/blueprint/internal/pipeline"
	"github.com/fyrsmithlabs/blueprint/internal/validator"
)

// Orchestrator starts and resumes pipeline runs. *pipeline.Engine implements it.
type Orchestrator interface {
	Start(ctx context.Context, prompt, language string) (*pipeline.Run, error)
	Continue(ctx context.Context, token, languageOverride string) (*pipeline.Run, error)
}

// Deps are the services behind the API. Engine, Agents and Approvals are
// required; a nil Pusher disables /git/push.
type Deps struct {
	Engine    Orchestrator
	Agents    pipeline.StageRunner
	Approvals approval.Store
	Pusher    gitexec.Executor
	Metrics   *HTTPMetrics
	Tracer    trace.Tracer
}

// Config holds HTTP server configuration.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server provides the blueprint HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *logging.Logger
	config  *Config
	tracer  trace.Tracer
	metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if deps.Agents == nil {
		return nil, fmt.Errorf("agents cannot be nil")
	}
	if deps.Approvals == nil {
		return nil, fmt.Errorf("approval store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8080}
	}

	s := &Server{
		echo:    echo.New(),
		deps:    deps,
		logger:  logger,
		config:  cfg,
		tracer:  deps.Tracer,
		metrics: deps.Metrics,
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer(httpInstrumentationName)
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(nil, logger)
	}
	if err := s.metrics.RegisterPendingApprovals(deps.Approvals.Pending); err != nil {
		return nil, fmt.Errorf("failed to register approval gauge: %w", err)
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(s.traceRequests)
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.logRequests)

	s.registerRoutes()
	return s, nil
}

// Echo exposes the router so callers can mount extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/health", s.handleHealth)
	v1.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	v1.POST("/orchestrate", s.handleOrchestrate)
	v1.POST("/orchestrate/continue", s.handleContinue)
	v1.POST("/approval", s.handleApproval)
	v1.GET("/approvals/:token", s.handleGetApproval)
	v1.POST("/git/push", s.handlePush)

	agents := v1.Group("/agents")
	agents.POST("/requirements", s.handleRequirements)
	agents.POST("/database-design", s.handleDatabaseDesign)
	agents.POST("/review", s.handleReview)
	agents.POST("/git-strategy", s.handleGitStrategy)

	v1.POST("/skills/validate", s.handleValidate)
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", responseStatus(c, err)),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

func (s *Server) traceRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx, span := s.tracer.Start(req.Context(), "http "+req.Method+" "+normalizePath(c.Path()),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", c.Path()),
			))
		defer span.End()
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Service: "blueprint"}
	n, err := s.deps.Approvals.Pending(c.Request().Context())
	if err != nil {
		resp.Status = "degraded"
		resp.ApprovalsPending = -1
	} else {
		resp.ApprovalsPending = n
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleOrchestrate(c echo.Context) error {
	var req OrchestrateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	run, err := s.deps.Engine.Start(c.Request().Context(), req.Prompt, req.Language)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleContinue(c echo.Context) error {
	var req ContinueRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.ApprovalToken == "" {
		return badRequest("approval_token is required")
	}
	run, err := s.deps.Engine.Continue(c.Request().Context(), req.ApprovalToken, req.Language)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleApproval(c echo.Context) error {
	var req ApprovalRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.ApprovalToken == "" {
		return badRequest("approval_token is required")
	}

	in, err := req.input()
	if err != nil {
		return toHTTPError(err)
	}

	ctx := c.Request().Context()
	rec, err := s.deps.Approvals.RecordDecision(ctx, req.ApprovalToken, in)
	if err != nil {
		return toHTTPError(err)
	}

	s.logger.Info(ctx, "approval recorded",
		zap.String("run.id", rec.RunID),
		zap.String("decision", string(rec.Decision)),
		zap.String("decided_by", rec.DecidedBy),
	)
	return c.JSON(http.StatusOK, ApprovalResponse{
		OK:            true,
		ApprovalToken: rec.Token,
		Decision:      string(rec.Decision),
		Message:       fmt.Sprintf("Decision %s recorded. Call /api/v1/orchestrate/continue to finish the run.", rec.Decision),
	})
}

func (r ApprovalRequest) input() (approval.DecisionInput, error) {
	in := approval.DecisionInput{Comment: r.Comment, DecidedBy: r.DecidedBy}
	if in.Comment == "" {
		in.Comment = r.Comments
	}
	if in.DecidedBy == "" {
		in.DecidedBy = r.ApprovedBy
	}

	switch {
	case r.Decision != "":
		d, err := approval.ParseDecision(r.Decision)
		if err != nil {
			return in, err
		}
		in.Decision = d
	case r.Approved != nil && *r.Approved:
		in.Decision = approval.Approved
	case r.Approved != nil:
		in.Decision = approval.Rejected
	default:
		return in, fmt.Errorf("decision is required: %w", approval.ErrInvalidDecision)
	}
	return in, nil
}

func (s *Server) handleGetApproval(c echo.Context) error {
	rec, err := s.deps.Approvals.Get(c.Request().Context(), c.Param("token"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handlePush(c echo.Context) error {
	if s.deps.Pusher == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "git push is not enabled")
	}
	var req PushRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	push := gitexec.PushRequest{
		Repo:            req.RepoFullName,
		Branch:          req.BranchName,
		BaseBranch:      req.BaseBranch,
		Files:           req.Files,
		Message:         req.Message,
		CreateIfMissing: boolOr(req.CreateIfMissing, true),
		Private:         boolOr(req.Private, true),
		RemoteURL:       req.RemoteURL,
	}
	creds := gitexec.Credentials{Token: config.Secret(req.GitHubToken), Username: req.Username}

	ctx := c.Request().Context()
	res, err := s.deps.Pusher.Execute(ctx, push, creds)
	if err != nil {
		s.logger.Warn(ctx, "push failed", zap.String("repo", req.RepoFullName), zap.Error(err))
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, PushResponse{
		OK:           true,
		RepoURL:      res.RepoURL,
		Branch:       res.Branch,
		CommitSHA:    res.CommitSHA,
		CommitURL:    res.CommitURL,
		Files:        res.Files,
		CreatedRepo:  res.CreatedRepo,
		Bootstrapped: res.Bootstrapped,
		Ignored:      res.Ignored,
	})
}

func (s *Server) handleRequirements(c echo.Context) error {
	var req RequirementsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.Prompt == "" {
		return badRequest("prompt is required")
	}
	out, err := s.deps.Agents.Requirements(c.Request().Context(), req.Prompt)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleDatabaseDesign(c echo.Context) error {
	var req DesignRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.Requirements == nil {
		return badRequest("requirements is required")
	}
	out, err := s.deps.Agents.DatabaseDesign(c.Request().Context(), req.Requirements)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleReview(c echo.Context) error {
	design, err := bindDesign(c)
	if err != nil {
		return err
	}
	out, err := s.deps.Agents.Review(c.Request().Context(), design)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGitStrategy(c echo.Context) error {
	var req GitStrategyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	out, err := s.deps.Agents.GitStrategy(c.Request().Context(), req.projectContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// handleValidate runs the deterministic design checks. A failing design is
// still a 200; the result carries the violations.
func (s *Server) handleValidate(c echo.Context) error {
	design, err := bindDesign(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, validator.Validate(design))
}

func bindDesign(c echo.Context) (*artifact.DatabaseDesign, error) {
	var body DesignBody
	if err := c.Bind(&body); err != nil {
		return nil, badRequest("invalid request body")
	}
	design := body.design()
	if design == nil {
		return nil, badRequest("database_design is required")
	}
	return design, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Start serves until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
