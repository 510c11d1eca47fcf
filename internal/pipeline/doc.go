// Package pipeline drives a run through its stages with an explicit
// transition table.
//
// # Overview
//
// A run turns one prompt into a repository scaffold:
//
//	Requirements → Database Design → Validation → Review → [Approval] → Git Strategy → [Git Execution]
//
// Stages run strictly in order on the caller's goroutine. Every step is a
// row lookup in the transition table keyed by (status, stage, event); the
// row gives the next status and the action to perform. A lookup miss is a
// programming error and fails the run loudly.
//
// # Suspension
//
// When the review asks for approval the engine parks a checkpoint in the
// approval store and returns PENDING_APPROVAL with the token. Nothing
// blocks while parked. Continue resumes the checkpoint once a decision is
// recorded: APPROVED runs Git Strategy next and nothing earlier, REJECTED
// ends in HALTED. Resume consumes the parked record, so a token continues
// at most one run.
//
// # Failures
//
// A generation failure or a failed validation ends the run as FAILED with
// the stage and cause in Run.Error. Approval store errors are returned to
// the caller and never recorded on a run. An automatic push after SUCCESS
// records its result or error under git_execution and never changes the
// status.
//
// # Observability
//
// Each transition is logged and published to an events.Sink. Runs and
// stages are trace spans; run outcomes and stage durations are metrics.
package pipeline
