package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/blueprint/internal/approval"
	"github.com/fyrsmithlabs/blueprint/internal/artifact"
	"github.com/fyrsmithlabs/blueprint/internal/events"
	"github.com/fyrsmithlabs/blueprint/internal/generator"
	"github.com/fyrsmithlabs/blueprint/internal/gitexec"
	"github.com/fyrsmithlabs/blueprint/internal/logging"
	"github.com/fyrsmithlabs/blueprint/internal/validator"
)

const instrumentationName = "github.com/fyrsmithlabs/blueprint/internal/pipeline"

// ErrEmptyPrompt is returned by Start when the prompt is blank.
var ErrEmptyPrompt = errors.New("prompt is required")

// StageRunner produces the generated artifacts. *stages.Stages implements it.
type StageRunner interface {
	Requirements(ctx context.Context, prompt string) (*artifact.Requirements, error)
	DatabaseDesign(ctx context.Context, req *artifact.Requirements) (*artifact.DatabaseDesign, error)
	Review(ctx context.Context, design *artifact.DatabaseDesign) (*artifact.Review, error)
	GitStrategy(ctx context.Context, pc artifact.ProjectContext) (*artifact.GitStrategy, error)
}

// PushTarget is where a successful run is pushed automatically.
type PushTarget struct {
	Repo            string
	Credentials     gitexec.Credentials
	CreateIfMissing bool
	Private         bool
}

// Engine runs pipelines. It is safe for concurrent use; runs share nothing
// but the approval store.
type Engine struct {
	runner   StageRunner
	store    approval.Store
	validate func(*artifact.DatabaseDesign) validator.Result
	sink     events.Sink
	executor gitexec.Executor
	target   PushTarget
	logger   *logging.Logger
	tracer   trace.Tracer
	metrics  *metrics
	now      func() time.Time
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink publishes every transition to sink.
func WithSink(sink events.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithAutoPush pushes the git strategy of every successful run to target.
func WithAutoPush(exec gitexec.Executor, target PushTarget) Option {
	return func(e *Engine) {
		e.executor = exec
		e.target = target
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer for run and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithMeter records run and stage metrics on m.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) { e.metrics = newMetrics(m) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. runner and store are required.
func New(runner StageRunner, store approval.Store, opts ...Option) (*Engine, error) {
	if runner == nil {
		return nil, errors.New("stage runner is required")
	}
	if store == nil {
		return nil, errors.New("approval store is required")
	}

	e := &Engine{
		runner:   runner,
		store:    store,
		validate: validator.Validate,
		sink:     events.NopSink{},
		logger:   logging.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer(instrumentationName),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = newMetrics(noopmetric.NewMeterProvider().Meter(instrumentationName))
	}
	return e, nil
}

// Start runs a new pipeline until it succeeds, fails or parks. An empty
// language means python.
func (e *Engine) Start(ctx context.Context, prompt, language string) (*Run, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	language = normalizeLanguage(language)

	now := e.now().UTC()
	run := &Run{
		ID:              e.newID(),
		Prompt:          prompt,
		Language:        language,
		CompletedStages: []Stage{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	ctx = logging.WithRunID(ctx, run.ID)
	ctx, span := e.tracer.Start(ctx, "pipeline.start", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("run.language", language),
	))
	defer span.End()

	e.logger.Info(ctx, "run started", zap.String("language", language))

	if err := e.drive(ctx, run, EventStart); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	e.finish(ctx, span, run)
	return run, nil
}

// Continue resumes a parked run once its decision is recorded. A non-empty
// languageOverride replaces the run's language for the remaining stages.
// Store errors (approval.ErrNotFound, approval.ErrDecisionPending) are
// returned as is.
func (e *Engine) Continue(ctx context.Context, token, languageOverride string) (*Run, error) {
	ctx, span := e.tracer.Start(ctx, "pipeline.continue")
	defer span.End()

	rec, err := e.store.Resume(ctx, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("resume %s: %w", token, err)
	}

	run := restore(rec)
	if languageOverride != "" {
		run.Language = normalizeLanguage(languageOverride)
	}
	run.UpdatedAt = e.now().UTC()

	ctx = logging.WithRunID(ctx, run.ID)
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("approval.decision", string(rec.Decision)),
	)
	e.logger.Info(ctx, "run resumed",
		zap.String("decision", string(rec.Decision)),
		zap.String("decided_by", rec.DecidedBy),
	)

	event := EventApproved
	if rec.Decision == approval.Rejected {
		event = EventRejected
	}
	if err := e.drive(ctx, run, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	e.finish(ctx, span, run)
	return run, nil
}

// drive applies transitions until one schedules no further action.
func (e *Engine) drive(ctx context.Context, run *Run, event Event) error {
	for {
		t, err := Next(run.Status, run.Stage, event)
		if err != nil {
			return err
		}
		run.Status = t.Next
		run.UpdatedAt = e.now().UTC()
		e.transitioned(ctx, run, event, t)

		switch t.Action {
		case ActionRunRequirements:
			event = e.stage(ctx, run, StageRequirements, func(ctx context.Context) error {
				out, err := e.runner.Requirements(ctx, run.Prompt)
				run.StageOutputs.Requirements = out
				return err
			})
		case ActionRunDatabaseDesign:
			event = e.stage(ctx, run, StageDatabaseDesign, func(ctx context.Context) error {
				out, err := e.runner.DatabaseDesign(ctx, run.StageOutputs.Requirements)
				run.StageOutputs.DatabaseDesign = out
				return err
			})
		case ActionValidate:
			event = e.runValidation(ctx, run)
		case ActionRunReview:
			event = e.stage(ctx, run, StageReview, func(ctx context.Context) error {
				out, err := e.runner.Review(ctx, run.StageOutputs.DatabaseDesign)
				run.StageOutputs.Review = out
				return err
			})
			if event == EventGenerated {
				event = EventApprovalNotRequired
				if run.StageOutputs.Review.ApprovalRequired {
					event = EventApprovalRequired
				}
			}
		case ActionPark:
			return e.park(ctx, run)
		case ActionRunGitStrategy:
			event = e.stage(ctx, run, StageGitStrategy, func(ctx context.Context) error {
				pc := artifact.NewProjectContext(run.Language, run.StageOutputs.Requirements)
				out, err := e.runner.GitStrategy(ctx, pc)
				run.StageOutputs.GitStrategy = out
				return err
			})
		case ActionNone:
			return nil
		default:
			return fmt.Errorf("unknown action %q", t.Action)
		}
	}
}

// stage runs one generation stage. On failure the output stays unset and
// the run records the error.
func (e *Engine) stage(ctx context.Context, run *Run, stage Stage, fn func(context.Context) error) Event {
	run.Stage = stage
	ctx, span := e.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("stage", string(stage)),
	))
	defer span.End()

	start := e.now()
	err := fn(ctx)
	e.metrics.stageDone(ctx, stage, err == nil, e.now().Sub(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		clearOutput(run, stage)
		run.Error = generationError(stage, err)
		e.logger.Warn(ctx, "stage failed",
			zap.String("stage", string(stage)),
			zap.Int("attempts", run.Error.Attempts),
			zap.Error(err),
		)
		return EventGenerationFailed
	}

	run.complete(stage)
	e.logger.Debug(ctx, "stage completed", zap.String("stage", string(stage)))
	return EventGenerated
}

func (e *Engine) runValidation(ctx context.Context, run *Run) Event {
	run.Stage = StageValidation
	_, span := e.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("stage", string(StageValidation)),
	))
	defer span.End()

	start := e.now()
	result := e.validate(run.StageOutputs.DatabaseDesign)
	run.StageOutputs.Validation = &result
	e.metrics.stageDone(ctx, StageValidation, result.OK, e.now().Sub(start))

	span.SetAttributes(attribute.Int("validation.violations", len(result.Violations)))
	if result.OK {
		run.complete(StageValidation)
		return EventValidationPassed
	}

	span.SetStatus(codes.Error, "validation failed")
	run.Error = &RunError{
		Stage:      StageValidation,
		Kind:       ErrorValidation,
		Message:    strings.Join(result.Messages(), "; "),
		Violations: result.Violations,
	}
	e.logger.Warn(ctx, "design failed validation", zap.Strings("violations", result.Messages()))
	return EventValidationFailed
}

func (e *Engine) park(ctx context.Context, run *Run) error {
	token, err := e.store.Park(ctx, run.checkpoint())
	if err != nil {
		return fmt.Errorf("park run %s: %w", run.ID, err)
	}
	run.Stage = StageApproval
	run.ApprovalToken = token
	e.logger.Info(ctx, "run parked for approval",
		zap.String("risk_level", string(run.StageOutputs.Review.RiskLevel)),
	)
	e.publish(ctx, run, EventApprovalRequired)
	return nil
}

// finish runs the optional push and records the outcome.
func (e *Engine) finish(ctx context.Context, span trace.Span, run *Run) {
	if run.Status == StatusSuccess && e.executor != nil && e.target.Repo != "" {
		e.autoPush(ctx, run)
	}

	span.SetAttributes(
		attribute.String("run.status", string(run.Status)),
		attribute.String("run.stage", string(run.Stage)),
	)
	if run.Status == StatusFailed {
		span.SetStatus(codes.Error, run.Error.Message)
	}
	e.metrics.runDone(ctx, run.Status)

	e.logger.Info(ctx, "run returned",
		zap.String("status", string(run.Status)),
		zap.String("stage", string(run.Stage)),
		zap.Strings("completed_stages", stageNames(run.CompletedStages)),
	)
}

// autoPush lands the strategy. A push failure is recorded on the run and
// leaves the status SUCCESS.
func (e *Engine) autoPush(ctx context.Context, run *Run) {
	req := gitexec.FromStrategy(run.StageOutputs.GitStrategy, e.target.Repo)
	req.CreateIfMissing = e.target.CreateIfMissing
	req.Private = e.target.Private

	run.Stage = StageGitExecution
	ctx, span := e.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("stage", string(StageGitExecution)),
	))
	defer span.End()

	start := e.now()
	res, err := e.executor.Execute(ctx, req, e.target.Credentials)
	e.metrics.stageDone(ctx, StageGitExecution, err == nil, e.now().Sub(start))

	out := &GitExecution{Repo: e.target.Repo, Result: res}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		out.Error = pushError(err)
		e.logger.Warn(ctx, "automatic push failed",
			zap.String("repo", e.target.Repo),
			zap.String("kind", string(out.Error.Kind)),
			zap.Error(err),
		)
	} else {
		run.complete(StageGitExecution)
	}
	run.StageOutputs.GitExecution = out
	run.UpdatedAt = e.now().UTC()
}

func (e *Engine) transitioned(ctx context.Context, run *Run, event Event, t Transition) {
	e.logger.Debug(ctx, "transition",
		zap.String("event", string(event)),
		zap.String("status", string(t.Next)),
		zap.String("action", string(t.Action)),
	)
	// Parking publishes once the token exists.
	if t.Action != ActionPark {
		e.publish(ctx, run, event)
	}
}

func (e *Engine) publish(ctx context.Context, run *Run, event Event) {
	ev := events.Event{
		RunID:         run.ID,
		Status:        string(run.Status),
		Stage:         string(run.Stage),
		Trigger:       string(event),
		ApprovalToken: run.ApprovalToken,
		Timestamp:     run.UpdatedAt,
	}
	if run.Error != nil {
		ev.Error = run.Error.Message
	}
	if err := e.sink.Publish(ctx, ev); err != nil {
		e.logger.Warn(ctx, "failed to publish run event", zap.Error(err))
	}
}

func generationError(stage Stage, err error) *RunError {
	re := &RunError{Stage: stage, Kind: ErrorGeneration, Message: err.Error()}
	var ge *generator.GenerationError
	if errors.As(err, &ge) {
		re.Attempts = ge.Attempts
	}
	return re
}

func pushError(err error) *PushError {
	var ge *gitexec.GitError
	if errors.As(err, &ge) {
		return &PushError{Kind: ge.Kind, Op: ge.Op, Message: ge.Error(), Landed: ge.Landed}
	}
	return &PushError{Kind: gitexec.KindNetwork, Op: "push", Message: err.Error()}
}

func clearOutput(run *Run, stage Stage) {
	switch stage {
	case StageRequirements:
		run.StageOutputs.Requirements = nil
	case StageDatabaseDesign:
		run.StageOutputs.DatabaseDesign = nil
	case StageReview:
		run.StageOutputs.Review = nil
	case StageGitStrategy:
		run.StageOutputs.GitStrategy = nil
	}
}

func normalizeLanguage(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		return artifact.DefaultLanguage
	}
	return lang
}

func stageNames(stages []Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}
