package pipeline

import "fmt"

// Event is what just happened to a run.
type Event string

const (
	EventStart               Event = "start"
	EventGenerated           Event = "generated"
	EventValidationPassed    Event = "validation_passed"
	EventValidationFailed    Event = "validation_failed"
	EventApprovalNotRequired Event = "approval_not_required"
	EventApprovalRequired    Event = "approval_required"
	EventApproved            Event = "approved"
	EventRejected            Event = "rejected"
	EventGenerationFailed    Event = "generation_failed"
)

// Action is the work a transition schedules.
type Action string

const (
	ActionRunRequirements   Action = "run_requirements"
	ActionRunDatabaseDesign Action = "run_database_design"
	ActionValidate          Action = "validate"
	ActionRunReview         Action = "run_review"
	ActionPark              Action = "park"
	ActionRunGitStrategy    Action = "run_git_strategy"
	ActionNone              Action = "none"
)

// anyStage matches every stage in a transition key.
const anyStage Stage = "*"

type transitionKey struct {
	status Status
	stage  Stage
	event  Event
}

// Transition is one row of the table.
type Transition struct {
	Next   Status
	Action Action
}

// transitions is the complete state machine. The stage is the one that
// produced the event; a new run has neither status nor stage.
var transitions = map[transitionKey]Transition{
	{"", "", EventStart}: {StatusRunning, ActionRunRequirements},

	{StatusRunning, StageRequirements, EventGenerated}:   {StatusRunning, ActionRunDatabaseDesign},
	{StatusRunning, StageDatabaseDesign, EventGenerated}: {StatusRunning, ActionValidate},

	{StatusRunning, StageValidation, EventValidationFailed}: {StatusFailed, ActionNone},
	{StatusRunning, StageValidation, EventValidationPassed}: {StatusRunning, ActionRunReview},

	{StatusRunning, StageReview, EventApprovalNotRequired}: {StatusRunning, ActionRunGitStrategy},
	{StatusRunning, StageReview, EventApprovalRequired}:    {StatusPendingApproval, ActionPark},

	{StatusPendingApproval, StageApproval, EventApproved}: {StatusRunning, ActionRunGitStrategy},
	{StatusPendingApproval, StageApproval, EventRejected}: {StatusHalted, ActionNone},

	{StatusRunning, StageGitStrategy, EventGenerated}: {StatusSuccess, ActionNone},

	{StatusRunning, anyStage, EventGenerationFailed}: {StatusFailed, ActionNone},
}

// Next looks up the transition for a run in status whose stage just
// produced event.
func Next(status Status, stage Stage, event Event) (Transition, error) {
	if t, ok := transitions[transitionKey{status, stage, event}]; ok {
		return t, nil
	}
	if t, ok := transitions[transitionKey{status, anyStage, event}]; ok {
		return t, nil
	}
	return Transition{}, fmt.Errorf("no transition from %s after %q on %q", status, stage, event)
}
