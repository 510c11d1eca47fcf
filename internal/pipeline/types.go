package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/blueprint/internal/approval"
	"github.com/fyrsmithlabs/blueprint/internal/artifact"
	"github.com/fyrsmithlabs/blueprint/internal/gitexec"
	"github.com/fyrsmithlabs/blueprint/internal/validator"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning         Status = "RUNNING"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusSuccess         Status = "SUCCESS"
	StatusFailed          Status = "FAILED"
	StatusHalted          Status = "HALTED"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusHalted
}

// Stage names a step of the pipeline.
type Stage string

const (
	StageRequirements   Stage = "requirements"
	StageDatabaseDesign Stage = "database_design"
	StageValidation     Stage = "validation"
	StageReview         Stage = "review"
	StageApproval       Stage = "approval"
	StageGitStrategy    Stage = "git_strategy"
	StageGitExecution   Stage = "git_execution"
)

// StageOutputs holds each stage's artifact in stage order. A nil field has
// not been reached.
type StageOutputs struct {
	Requirements   *artifact.Requirements   `json:"requirements,omitempty"`
	DatabaseDesign *artifact.DatabaseDesign `json:"database_design,omitempty"`
	Validation     *validator.Result        `json:"validation,omitempty"`
	Review         *artifact.Review         `json:"review,omitempty"`
	Approval       *ApprovalOutcome         `json:"approval,omitempty"`
	GitStrategy    *artifact.GitStrategy    `json:"git_strategy,omitempty"`
	GitExecution   *GitExecution            `json:"git_execution,omitempty"`
}

// ApprovalOutcome is the recorded human decision carried into a resumed run.
type ApprovalOutcome struct {
	Decision  approval.Decision `json:"decision"`
	Comment   string            `json:"comment,omitempty"`
	DecidedBy string            `json:"decided_by,omitempty"`
	DecidedAt *time.Time        `json:"decided_at,omitempty"`
}

// GitExecution is the outcome of the automatic push after SUCCESS.
type GitExecution struct {
	Repo   string          `json:"repo"`
	Result *gitexec.Result `json:"result,omitempty"`
	Error  *PushError      `json:"error,omitempty"`
}

// PushError is the serialisable form of a *gitexec.GitError.
type PushError struct {
	Kind    gitexec.Kind `json:"kind"`
	Op      string       `json:"op"`
	Message string       `json:"message"`
	Landed  []string     `json:"landed,omitempty"`
}

// ErrorKind classifies a run failure.
type ErrorKind string

const (
	ErrorGeneration ErrorKind = "generation"
	ErrorValidation ErrorKind = "validation"
)

// RunError explains a FAILED run.
type RunError struct {
	Stage      Stage                 `json:"stage"`
	Kind       ErrorKind             `json:"kind"`
	Message    string                `json:"message"`
	Attempts   int                   `json:"attempts,omitempty"`
	Violations []validator.Violation `json:"violations,omitempty"`
}

// Run is one execution of the pipeline for a prompt.
type Run struct {
	ID              string       `json:"run_id"`
	Status          Status       `json:"status"`
	Stage           Stage        `json:"stage,omitempty"`
	Prompt          string       `json:"prompt"`
	Language        string       `json:"language"`
	StageOutputs    StageOutputs `json:"stage_outputs"`
	CompletedStages []Stage      `json:"completed_stages"`
	ApprovalToken   string       `json:"approval_token,omitempty"`
	Error           *RunError    `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Completed reports whether stage finished in this run.
func (r *Run) Completed(stage Stage) bool {
	for _, s := range r.CompletedStages {
		if s == stage {
			return true
		}
	}
	return false
}

func (r *Run) complete(stage Stage) {
	if !r.Completed(stage) {
		r.CompletedStages = append(r.CompletedStages, stage)
	}
}

// checkpoint captures everything needed to resume after approval.
func (r *Run) checkpoint() approval.Checkpoint {
	return approval.Checkpoint{
		RunID:          r.ID,
		Prompt:         r.Prompt,
		Language:       r.Language,
		Requirements:   r.StageOutputs.Requirements,
		DatabaseDesign: r.StageOutputs.DatabaseDesign,
		Validation:     r.StageOutputs.Validation,
		Review:         r.StageOutputs.Review,
		StartedAt:      r.CreatedAt,
	}
}

// restore rebuilds a parked run from its approval record.
func restore(rec *approval.Record) *Run {
	cp := rec.Checkpoint
	run := &Run{
		ID:       cp.RunID,
		Status:   StatusPendingApproval,
		Stage:    StageApproval,
		Prompt:   cp.Prompt,
		Language: cp.Language,
		StageOutputs: StageOutputs{
			Requirements:   cp.Requirements,
			DatabaseDesign: cp.DatabaseDesign,
			Validation:     cp.Validation,
			Review:         cp.Review,
			Approval: &ApprovalOutcome{
				Decision:  rec.Decision,
				Comment:   rec.Comment,
				DecidedBy: rec.DecidedBy,
				DecidedAt: rec.DecidedAt,
			},
		},
		CompletedStages: []Stage{StageRequirements, StageDatabaseDesign, StageValidation, StageReview},
		ApprovalToken:   rec.Token,
		CreatedAt:       cp.StartedAt,
	}
	run.complete(StageApproval)
	return run
}
