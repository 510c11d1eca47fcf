package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/blueprint/internal/approval"
	"github.com/fyrsmithlabs/blueprint/internal/artifact"
	"github.com/fyrsmithlabs/blueprint/internal/events"
	"github.com/fyrsmithlabs/blueprint/internal/generator"
	"github.com/fyrsmithlabs/blueprint/internal/gitexec"
	"github.com/fyrsmithlabs/blueprint/internal/logging"
	"github.com/fyrsmithlabs/blueprint/internal/telemetry"
)

// MockStageRunner is a testify mock of StageRunner.
type MockStageRunner struct {
	mock.Mock
}

func (m *MockStageRunner) Requirements(ctx context.Context, prompt string) (*artifact.Requirements, error) {
	args := m.Called(ctx, prompt)
	out, _ := args.Get(0).(*artifact.Requirements)
	return out, args.Error(1)
}

func (m *MockStageRunner) DatabaseDesign(ctx context.Context, req *artifact.Requirements) (*artifact.DatabaseDesign, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*artifact.DatabaseDesign)
	return out, args.Error(1)
}

func (m *MockStageRunner) Review(ctx context.Context, design *artifact.DatabaseDesign) (*artifact.Review, error) {
	args := m.Called(ctx, design)
	out, _ := args.Get(0).(*artifact.Review)
	return out, args.Error(1)
}

func (m *MockStageRunner) GitStrategy(ctx context.Context, pc artifact.ProjectContext) (*artifact.GitStrategy, error) {
	args := m.Called(ctx, pc)
	out, _ := args.Get(0).(*artifact.GitStrategy)
	return out, args.Error(1)
}

// MockExecutor is a testify mock of gitexec.Executor.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, req gitexec.PushRequest, creds gitexec.Credentials) (*gitexec.Result, error) {
	args := m.Called(ctx, req, creds)
	out, _ := args.Get(0).(*gitexec.Result)
	return out, args.Error(1)
}

const prompt = "A blog with users, posts and comments"

func requirements() *artifact.Requirements {
	return &artifact.Requirements{
		Entities: []artifact.Entity{{Name: "User"}, {Name: "Post"}},
		Relationships: []artifact.Relationship{
			{From: "User", To: "Post", Type: artifact.OneToMany},
		},
	}
}

func validDesign() *artifact.DatabaseDesign {
	return &artifact.DatabaseDesign{
		Tables: []artifact.Table{
			{Name: "users", PrimaryKey: "id", Columns: []artifact.Column{
				{Name: "id", Type: "UUID"},
				{Name: "email", Type: "VARCHAR(255)", Constraints: []string{"NOT NULL", "UNIQUE"}},
			}},
			{Name: "posts", PrimaryKey: "id", Columns: []artifact.Column{
				{Name: "id", Type: "UUID"},
				{Name: "author_id", Type: "UUID", Constraints: []string{"REFERENCES users(id)"}},
			}},
		},
		Relations: []artifact.Relation{
			{FromTable: "posts", FromColumn: "author_id", ToTable: "users", ToColumn: "id"},
		},
		SQLSchema: "CREATE TABLE users (...); CREATE TABLE posts (...);",
	}
}

func invalidDesign() *artifact.DatabaseDesign {
	return &artifact.DatabaseDesign{
		Tables: []artifact.Table{
			{Name: "users", Columns: []artifact.Column{{Name: "email", Type: "TEXT"}}},
			{Name: "posts", Columns: []artifact.Column{}},
		},
		SQLSchema: "CREATE TABLE users (email TEXT);",
	}
}

func review(required bool) *artifact.Review {
	r := &artifact.Review{Assessment: "reasonable", RiskLevel: artifact.RiskLow}
	if required {
		r.RiskLevel = artifact.RiskHigh
		r.ApprovalRequired = true
	}
	return r
}

func strategy() *artifact.GitStrategy {
	return &artifact.GitStrategy{
		BranchName: "feature/init-backend",
		BaseBranch: "main",
		Action:     "create initial scaffold",
		Files: []artifact.RepoFile{
			{Path: "README.md", Content: "# Blog"},
			{Path: ".gitignore", Content: "__pycache__/"},
			{Path: "main.py", Content: "print('hi')"},
		},
	}
}

// happyRunner expects every stage once with the given review.
func happyRunner(approvalRequired bool) *MockStageRunner {
	r := &MockStageRunner{}
	r.On("Requirements", mock.Anything, prompt).Return(requirements(), nil).Once()
	r.On("DatabaseDesign", mock.Anything, mock.Anything).Return(validDesign(), nil).Once()
	r.On("Review", mock.Anything, mock.Anything).Return(review(approvalRequired), nil).Once()
	r.On("GitStrategy", mock.Anything, mock.Anything).Return(strategy(), nil).Once()
	return r
}

type harness struct {
	engine   *Engine
	store    *approval.MemoryStore
	recorder *events.Recorder
	logger   *logging.TestLogger
	tel      *telemetry.TestTelemetry
}

func newHarness(t *testing.T, runner StageRunner, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    approval.NewMemoryStore(),
		recorder: &events.Recorder{},
		logger:   logging.NewTestLogger(),
		tel:      telemetry.NewTestTelemetry(),
	}
	base := []Option{
		WithSink(h.recorder),
		WithLogger(h.logger.Logger),
		WithTracer(h.tel.Tracer(instrumentationName)),
		WithMeter(h.tel.Meter(instrumentationName)),
	}
	e, err := New(runner, h.store, append(base, opts...)...)
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) decide(t *testing.T, token string, d approval.Decision) {
	t.Helper()
	_, err := h.store.RecordDecision(context.Background(), token, approval.DecisionInput{
		Decision:  d,
		Comment:   "looked at it",
		DecidedBy: "reviewer@example.com",
	})
	require.NoError(t, err)
}

func triggers(r *events.Recorder) []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Trigger
	}
	return out
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(nil, approval.NewMemoryStore())
	assert.Error(t, err)
	_, err = New(&MockStageRunner{}, nil)
	assert.Error(t, err)
}

func TestStart_NoApprovalRunsToSuccess(t *testing.T) {
	runner := happyRunner(false)
	h := newHarness(t, runner)

	run, err := h.engine.Start(context.Background(), prompt, "")
	require.NoError(t, err)
	runner.AssertExpectations(t)

	assert.Equal(t, StatusSuccess, run.Status)
	assert.Equal(t, StageGitStrategy, run.Stage)
	assert.Empty(t, run.ApprovalToken)
	assert.Nil(t, run.Error)
	assert.Equal(t, "python", run.Language)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, []Stage{StageRequirements, StageDatabaseDesign, StageValidation, StageReview, StageGitStrategy}, run.CompletedStages)

	out := run.StageOutputs
	require.NotNil(t, out.Validation)
	assert.True(t, out.Validation.OK)
	assert.NotNil(t, out.Requirements)
	assert.NotNil(t, out.DatabaseDesign)
	assert.NotNil(t, out.Review)
	assert.NotNil(t, out.GitStrategy)
	assert.Nil(t, out.Approval)
	assert.Nil(t, out.GitExecution)

	pending, err := h.store.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)

	assert.Equal(t, []string{"start", "generated", "generated", "validation_passed", "approval_not_required", "generated"}, triggers(h.recorder))
	assert.Equal(t, "SUCCESS", h.recorder.Statuses()[len(h.recorder.Statuses())-1])
}

func TestStart_GitStrategyGetsProjectContext(t *testing.T) {
	runner := &MockStageRunner{}
	runner.On("Requirements", mock.Anything, prompt).Return(requirements(), nil)
	runner.On("DatabaseDesign", mock.Anything, mock.Anything).Return(validDesign(), nil)
	runner.On("Review", mock.Anything, mock.Anything).Return(review(false), nil)
	runner.On("GitStrategy", mock.Anything, artifact.ProjectContext{
		Type:        "backend",
		Framework:   "gin",
		Language:    "go",
		Description: "Backend with entities: User, Post",
	}).Return(strategy(), nil)
	h := newHarness(t, runner)

	run, err := h.engine.Start(context.Background(), prompt, " Go ")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, run.Status)
	assert.Equal(t, "go", run.Language)
	runner.AssertExpectations(t)
}

func TestStart_EmptyPrompt(t *testing.T) {
	runner := &MockStageRunner{}
	h := newHarness(t, runner)

	_, err := h.engine.Start(context.Background(), "   ", "go")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	runner.AssertNotCalled(t, "Requirements", mock.Anything, mock.Anything)
	assert.Empty(t, h.recorder.Events())
}

func TestStart_HighRiskParks(t *testing.T) {
	runner := happyRunner(true)
	h := newHarness(t, runner)

	run, err := h.engine.Start(context.Background(), prompt, "python")
	require.NoError(t, err)

	assert.Equal(t, StatusPendingApproval, run.Status)
	assert.Equal(t, StageApproval, run.Stage)
	assert.NotEmpty(t, run.ApprovalToken)
	assert.Nil(t, run.StageOutputs.GitStrategy)
	assert.False(t, run.Completed(StageGitStrategy))
	runner.AssertNotCalled(t, "GitStrategy", mock.Anything, mock.Anything)

	rec, err := h.store.Get(context.Background(), run.ApprovalToken)
	require.NoError(t, err)
	assert.Equal(t, approval.Unset, rec.Decision)
	assert.Equal(t, run.ID, rec.RunID)
	assert.Equal(t, artifact.RiskHigh, rec.Checkpoint.Review.RiskLevel)
	assert.Equal(t, prompt, rec.Checkpoint.Prompt)

	last := h.recorder.Events()[len(h.recorder.Events())-1]
	assert.Equal(t, "PENDING_APPROVAL", last.Status)
	assert.Equal(t, "approval_required", last.Trigger)
	assert.Equal(t, run.ApprovalToken, last.ApprovalToken)

	h.logger.AssertLogged(t, zapcore.InfoLevel, "run parked for approval")
}

func TestContinue_ApprovedRunsOnlyGitStrategy(t *testing.T) {
	first := happyRunner(true)
	h := newHarness(t, first)
	parked, err := h.engine.Start(context.Background(), prompt, "python")
	require.NoError(t, err)
	h.decide(t, parked.ApprovalToken, approval.Approved)

	// A fresh runner proves nothing before the approval point runs again.
	second := &MockStageRunner{}
	second.On("GitStrategy", mock.Anything, mock.Anything).Return(strategy(), nil).Once()
	h.engine.runner = second

	run, err := h.engine.Continue(context.Background(), parked.ApprovalToken, "")
	require.NoError(t, err)

	second.AssertExpectations(t)
	second.AssertNotCalled(t, "Requirements", mock.Anything, mock.Anything)
	second.AssertNotCalled(t, "DatabaseDesign", mock.Anything, mock.Anything)
	second.AssertNotCalled(t, "Review", mock.Anything, mock.Anything)

	assert.Equal(t, StatusSuccess, run.Status)
	assert.Equal(t, parked.ID, run.ID)
	assert.Equal(t, parked.CreatedAt, run.CreatedAt)
	assert.Equal(t, parked.StageOutputs.DatabaseDesign, run.StageOutputs.DatabaseDesign)
	require.NotNil(t, run.StageOutputs.Approval)
	assert.Equal(t, approval.Approved, run.StageOutputs.Approval.Decision)
	assert.Equal(t, "reviewer@example.com", run.StageOutputs.Approval.DecidedBy)
	assert.Equal(t, []Stage{StageRequirements, StageDatabaseDesign, StageValidation, StageReview, StageApproval, StageGitStrategy}, run.CompletedStages)

	_, err = h.store.Get(context.Background(), parked.ApprovalToken)
	assert.ErrorIs(t, err, approval.ErrNotFound, "resume consumes the record")
}

func TestContinue_LanguageOverride(t *testing.T) {
	h := newHarness(t, happyRunner(true))
	parked, err := h.engine.Start(context.Background(), prompt, "python")
	require.NoError(t, err)
	h.decide(t, parked.ApprovalToken, approval.Approved)

	second := &MockStageRunner{}
	second.On("GitStrategy", mock.Anything, mock.MatchedBy(func(pc artifact.ProjectContext) bool {
		return pc.Language == "node" && pc.Framework == "express"
	})).Return(strategy(), nil).Once()
	h.engine.runner = second

	run, err := h.engine.Continue(context.Background(), parked.ApprovalToken, "Node")
	require.NoError(t, err)
	assert.Equal(t, "node", run.Language)
	second.AssertExpectations(t)
}

func TestContinue_RejectedHalts(t *testing.T) {
	runner := happyRunner(true)
	h := newHarness(t, runner)
	parked, err := h.engine.Start(context.Background(), prompt, "")
	require.NoError(t, err)
	h.decide(t, parked.ApprovalToken, approval.Rejected)

	run, err := h.engine.Continue(context.Background(), parked.ApprovalToken, "")
	require.NoError(t, err)

	assert.Equal(t, StatusHalted, run.Status)
	assert.Equal(t, StageApproval, run.Stage)
	assert.Nil(t, run.StageOutputs.GitStrategy)
	assert.Nil(t, run.Error)
	assert.Equal(t, approval.Rejected, run.StageOutputs.Approval.Decision)
	runner.AssertNotCalled(t, "GitStrategy", mock.Anything, mock.Anything)

	last := h.recorder.Events()[len(h.recorder.Events())-1]
	assert.Equal(t, "HALTED", last.Status)
	assert.Equal(t, "rejected", last.Trigger)
}

func TestContinue_StoreErrors(t *testing.T) {
	h := newHarness(t, happyRunner(true))

	_, err := h.engine.Continue(context.Background(), "no-such-token", "")
	assert.ErrorIs(t, err, approval.ErrNotFound)

	parked, err := h.engine.Start(context.Background(), prompt, "")
	require.NoError(t, err)

	_, err = h.engine.Continue(context.Background(), parked.ApprovalToken, "")
	assert.ErrorIs(t, err, approval.ErrDecisionPending)

	// Still parked and still resumable once decided.
	rec, err := h.store.Get(context.Background(), parked.ApprovalToken)
	require.NoError(t, err)
	assert.Equal(t, approval.Unset, rec.Decision)

	h.decide(t, parked.ApprovalToken, approval.Rejected)
	_, err = h.engine.Continue(context.Background(), parked.ApprovalToken, "")
	require.NoError(t, err)

	_, err = h.engine.Continue(context.Background(), parked.ApprovalToken, "")
	assert.ErrorIs(t, err, approval.ErrNotFound, "a token resumes once")
}

func TestStart_ValidationFailureReportsEveryViolation(t *testing.T) {
	runner := &MockStageRunner{}
	runner.On("Requirements", mock.Anything, prompt).Return(requirements(), nil)
	runner.On("DatabaseDesign", mock.Anything, mock.Anything).Return(invalidDesign(), nil)
	h := newHarness(t, runner)

	run, err := h.engine.Start(context.Background(), prompt, "")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, StageValidation, run.Stage)
	require.NotNil(t, run.Error)
	assert.Equal(t, ErrorValidation, run.Error.Kind)
	require.NotNil(t, run.StageOutputs.Validation)
	assert.False(t, run.StageOutputs.Validation.OK)
	assert.Len(t, run.Error.Violations, len(run.StageOutputs.Validation.Violations))
	assert.GreaterOrEqual(t, len(run.Error.Violations), 2, "users has no primary key and posts has no columns")
	assert.False(t, run.Completed(StageValidation))
	assert.Nil(t, run.StageOutputs.Review)
	assert.Empty(t, run.ApprovalToken)

	runner.AssertNotCalled(t, "Review", mock.Anything, mock.Anything)
	runner.AssertNotCalled(t, "GitStrategy", mock.Anything, mock.Anything)
	h.logger.AssertLogged(t, zapcore.WarnLevel, "design failed validation")
}

func TestStart_GenerationFailureStopsAtStage(t *testing.T) {
	genErr := &generator.GenerationError{Stage: "database_design", Attempts: 3, LastErr: errors.New("no JSON object in response")}

	runner := &MockStageRunner{}
	runner.On("Requirements", mock.Anything, prompt).Return(requirements(), nil)
	runner.On("DatabaseDesign", mock.Anything, mock.Anything).Return(nil, genErr)
	h := newHarness(t, runner)

	run, err := h.engine.Start(context.Background(), prompt, "")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, StageDatabaseDesign, run.Stage)
	require.NotNil(t, run.Error)
	assert.Equal(t, ErrorGeneration, run.Error.Kind)
	assert.Equal(t, 3, run.Error.Attempts)
	assert.Contains(t, run.Error.Message, "no JSON object")
	assert.Nil(t, run.StageOutputs.DatabaseDesign)
	assert.Nil(t, run.StageOutputs.Validation)
	assert.Equal(t, []Stage{StageRequirements}, run.CompletedStages)

	last := h.recorder.Events()[len(h.recorder.Events())-1]
	assert.Equal(t, "FAILED", last.Status)
	assert.Equal(t, "generation_failed", last.Trigger)
	assert.NotEmpty(t, last.Error)
}

func TestContinue_GitStrategyFailure(t *testing.T) {
	h := newHarness(t, happyRunner(true))
	parked, err := h.engine.Start(context.Background(), prompt, "")
	require.NoError(t, err)
	h.decide(t, parked.ApprovalToken, approval.Approved)

	second := &MockStageRunner{}
	second.On("GitStrategy", mock.Anything, mock.Anything).Return(nil, errors.New("model unavailable"))
	h.engine.runner = second

	run, err := h.engine.Continue(context.Background(), parked.ApprovalToken, "")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, StageGitStrategy, run.Stage)
	assert.Equal(t, ErrorGeneration, run.Error.Kind)
	assert.Zero(t, run.Error.Attempts)
}

func TestStart_AutoPush(t *testing.T) {
	target := PushTarget{
		Repo:            "octo/blog",
		Credentials:     gitexec.Credentials{Token: "ghp_test"},
		CreateIfMissing: true,
	}

	t.Run("success", func(t *testing.T) {
		exec := &MockExecutor{}
		exec.On("Execute", mock.Anything, mock.MatchedBy(func(req gitexec.PushRequest) bool {
			return req.Repo == "octo/blog" && req.Branch == "feature/init-backend" && req.CreateIfMissing && len(req.Files) == 3
		}), target.Credentials).Return(&gitexec.Result{
			RepoURL:   "https://github.com/octo/blog",
			Branch:    "feature/init-backend",
			CommitSHA: "abc123",
		}, nil).Once()
		h := newHarness(t, happyRunner(false), WithAutoPush(exec, target))

		run, err := h.engine.Start(context.Background(), prompt, "")
		require.NoError(t, err)
		exec.AssertExpectations(t)

		assert.Equal(t, StatusSuccess, run.Status)
		assert.Equal(t, StageGitExecution, run.Stage)
		assert.True(t, run.Completed(StageGitExecution))
		require.NotNil(t, run.StageOutputs.GitExecution)
		assert.Equal(t, "abc123", run.StageOutputs.GitExecution.Result.CommitSHA)
		assert.Nil(t, run.StageOutputs.GitExecution.Error)
	})

	t.Run("failure keeps success", func(t *testing.T) {
		exec := &MockExecutor{}
		exec.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(nil,
			&gitexec.GitError{Kind: gitexec.KindAuth, Op: "get repository", Message: "bad credentials"}).Once()
		h := newHarness(t, happyRunner(false), WithAutoPush(exec, target))

		run, err := h.engine.Start(context.Background(), prompt, "")
		require.NoError(t, err)

		assert.Equal(t, StatusSuccess, run.Status)
		assert.Nil(t, run.Error)
		assert.False(t, run.Completed(StageGitExecution))
		require.NotNil(t, run.StageOutputs.GitExecution)
		require.NotNil(t, run.StageOutputs.GitExecution.Error)
		assert.Equal(t, gitexec.KindAuth, run.StageOutputs.GitExecution.Error.Kind)
		h.logger.AssertLogged(t, zapcore.WarnLevel, "automatic push failed")
	})

	t.Run("not after a parked run", func(t *testing.T) {
		exec := &MockExecutor{}
		h := newHarness(t, happyRunner(true), WithAutoPush(exec, target))

		run, err := h.engine.Start(context.Background(), prompt, "")
		require.NoError(t, err)
		assert.Equal(t, StatusPendingApproval, run.Status)
		exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestStart_Telemetry(t *testing.T) {
	h := newHarness(t, happyRunner(false))

	run, err := h.engine.Start(context.Background(), prompt, "")
	require.NoError(t, err)

	h.tel.AssertSpanAttribute(t, "pipeline.start", "run.id", run.ID)
	h.tel.AssertSpanAttribute(t, "pipeline.start", "run.status", "SUCCESS")

	stageSpans := 0
	for _, name := range h.tel.SpanNames() {
		if name == "pipeline.stage" {
			stageSpans++
		}
	}
	assert.Equal(t, 5, stageSpans)
	assert.Equal(t, int64(1), h.tel.CounterValue(t, "blueprint.pipeline.runs", attribute.String("status", "SUCCESS")))
}

type fixedClock struct{ t time.Time }

func (c fixedClock) now() time.Time { return c.t }

func TestStart_UsesClock(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, happyRunner(false), WithClock(fixedClock{at}.now))

	run, err := h.engine.Start(context.Background(), prompt, "")
	require.NoError(t, err)
	assert.Equal(t, at, run.CreatedAt)
	assert.Equal(t, at, run.UpdatedAt)
}

func TestStart_ParkFailureIsReturned(t *testing.T) {
	h := newHarness(t, happyRunner(true))
	h.engine.store = failingStore{Store: h.store, err: errors.New("disk full")}

	_, err := h.engine.Start(context.Background(), prompt, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

type failingStore struct {
	approval.Store
	err error
}

func (s failingStore) Park(context.Context, approval.Checkpoint) (string, error) {
	return "", s.err
}

func TestConcurrentRunsDoNotInterfere(t *testing.T) {
	runner := &MockStageRunner{}
	runner.On("Requirements", mock.Anything, mock.Anything).Return(requirements(), nil)
	runner.On("DatabaseDesign", mock.Anything, mock.Anything).Return(validDesign(), nil)
	runner.On("Review", mock.Anything, mock.Anything).Return(review(true), nil)
	h := newHarness(t, runner)

	const n = 8
	tokens := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			run, err := h.engine.Start(context.Background(), prompt, "")
			if err != nil {
				tokens <- ""
				return
			}
			tokens <- run.ApprovalToken
		}()
	}

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		tok := <-tokens
		require.NotEmpty(t, tok)
		assert.False(t, seen[tok], "token issued twice")
		seen[tok] = true
	}

	pending, err := h.store.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, n, pending)
}
