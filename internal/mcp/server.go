package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/blueprint/internal/approval"
	"github.com/fyrsmithlabs/blueprint/internal/artifact"
	"github.com/fyrsmithlabs/blueprint/internal/logging"
	"github.com/fyrsmithlabs/blueprint/internal/pipeline"
	"github.com/fyrsmithlabs/blueprint/internal/validator"
)

var errInvalidInput = errors.New("invalid tool input")

// Orchestrator starts and resumes pipeline runs. *pipeline.Engine implements it.
type Orchestrator interface {
	Start(ctx context.Context, prompt, language string) (*pipeline.Run, error)
	Continue(ctx context.Context, token, languageOverride string) (*pipeline.Run, error)
}

// Server is an MCP server over the pipeline engine.
type Server struct {
	mcp       *mcp.Server
	engine    Orchestrator
	approvals approval.Store
	metrics   *Metrics
	logger    *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "blueprint")
	Name string

	// Version is the server version (default: "dev")
	Version string

	Logger  *logging.Logger
	Metrics *Metrics
}

// DefaultConfig returns defaults with a no-op logger and meter.
func DefaultConfig() *Config {
	logger := logging.NewNop()
	return &Config{
		Name:    "blueprint",
		Version: "dev",
		Logger:  logger,
		Metrics: NewMetrics(noop.NewMeterProvider().Meter(""), logger),
	}
}

// NewServer creates the server and registers its tools.
func NewServer(cfg *Config, engine Orchestrator, approvals approval.Store) (*Server, error) {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	if engine == nil {
		return nil, fmt.Errorf("pipeline engine is required")
	}
	if approvals == nil {
		return nil, fmt.Errorf("approval store is required")
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Metrics == nil {
		cfg.Metrics = def.Metrics
	}

	s := &Server{
		mcp:       mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		engine:    engine,
		approvals: approvals,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on the stdio transport until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

type runPipelineInput struct {
	Prompt   string `json:"prompt" jsonschema:"Natural-language description of the project to design"`
	Language string `json:"language,omitempty" jsonschema:"Target language for the git strategy (default: python)"`
}

type continueRunInput struct {
	ApprovalToken string `json:"approval_token" jsonschema:"Token returned by a run that stopped at PENDING_APPROVAL"`
	Language      string `json:"language,omitempty" jsonschema:"Overrides the language the run was started with"`
}

type recordDecisionInput struct {
	ApprovalToken string `json:"approval_token" jsonschema:"Token of the parked run"`
	Decision      string `json:"decision" jsonschema:"approve or reject"`
	Comment       string `json:"comment,omitempty" jsonschema:"Reason for the decision"`
	DecidedBy     string `json:"decided_by,omitempty" jsonschema:"Who made the decision"`
}

type getApprovalInput struct {
	ApprovalToken string `json:"approval_token" jsonschema:"Token of the parked run"`
}

type validateDesignInput struct {
	DatabaseDesign artifact.DatabaseDesign `json:"database_design" jsonschema:"Database design to check"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "run_pipeline",
		Description: "Run the design pipeline for a project prompt: requirements, database design, validation, review and git strategy. High-risk designs stop at PENDING_APPROVAL with an approval_token.",
	}, instrument(s, "run_pipeline", s.runPipeline))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "continue_run",
		Description: "Resume a run parked for approval once a decision is recorded. An approved run finishes the git strategy; a rejected run halts.",
	}, instrument(s, "continue_run", s.continueRun))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "record_decision",
		Description: "Approve or reject a run parked for approval. Only the first decision for a token is kept.",
	}, instrument(s, "record_decision", s.recordDecision))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_approval",
		Description: "Show a parked run, its checkpointed artifacts and its decision.",
	}, instrument(s, "get_approval", s.getApproval))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "validate_design",
		Description: "Check a database design for missing primary keys, duplicate names and dangling foreign keys.",
	}, instrument(s, "validate_design", s.validateDesign))
}

// instrument wraps a handler with logging and invocation metrics.
func instrument[In any](s *Server, tool string, h mcp.ToolHandlerFor[In, any]) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		s.metrics.active(ctx, tool, 1)
		defer s.metrics.active(ctx, tool, -1)

		start := time.Now()
		res, out, err := h(ctx, req, in)
		s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)

		if err != nil {
			s.logger.Warn(ctx, "tool call failed", zap.String("tool", tool), zap.Error(err))
		} else {
			s.logger.Debug(ctx, "tool call finished", zap.String("tool", tool), zap.Duration("duration", time.Since(start)))
		}
		return res, out, err
	}
}

func (s *Server) runPipeline(ctx context.Context, _ *mcp.CallToolRequest, in runPipelineInput) (*mcp.CallToolResult, any, error) {
	run, err := s.engine.Start(ctx, in.Prompt, in.Language)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(run)
}

func (s *Server) continueRun(ctx context.Context, _ *mcp.CallToolRequest, in continueRunInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.ApprovalToken) == "" {
		return nil, nil, fmt.Errorf("%w: approval_token is required", errInvalidInput)
	}
	run, err := s.engine.Continue(ctx, in.ApprovalToken, in.Language)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(run)
}

func (s *Server) recordDecision(ctx context.Context, _ *mcp.CallToolRequest, in recordDecisionInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.ApprovalToken) == "" {
		return nil, nil, fmt.Errorf("%w: approval_token is required", errInvalidInput)
	}
	decision, err := approval.ParseDecision(in.Decision)
	if err != nil {
		return nil, nil, err
	}
	rec, err := s.approvals.RecordDecision(ctx, in.ApprovalToken, approval.DecisionInput{
		Decision:  decision,
		Comment:   in.Comment,
		DecidedBy: in.DecidedBy,
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info(ctx, "approval recorded",
		zap.String("run.id", rec.RunID),
		zap.String("decision", string(rec.Decision)),
		zap.String("decided_by", rec.DecidedBy),
	)
	return jsonResult(rec)
}

func (s *Server) getApproval(ctx context.Context, _ *mcp.CallToolRequest, in getApprovalInput) (*mcp.CallToolResult, any, error) {
	rec, err := s.approvals.Get(ctx, in.ApprovalToken)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(rec)
}

func (s *Server) validateDesign(_ context.Context, _ *mcp.CallToolRequest, in validateDesignInput) (*mcp.CallToolResult, any, error) {
	return jsonResult(validator.Validate(&in.DatabaseDesign))
}

// jsonResult renders v as the single text content of a tool result.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshal result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil, nil
}
