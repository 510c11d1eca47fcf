// Package approval parks suspended pipeline runs under an approval token and
// hands each one back exactly once after a human decision.
//
// A record moves UNSET -> APPROVED|REJECTED exactly once; the first decision
// wins. Resume consumes the record, so a token continues at most one run.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/blueprint/internal/artifact"
	"github.com/fyrsmithlabs/blueprint/internal/validator"
)

// Decision is the human verdict on a parked run.
type Decision string

const (
	Unset    Decision = "UNSET"
	Approved Decision = "APPROVED"
	Rejected Decision = "REJECTED"
)

// ParseDecision accepts approve/approved/reject/rejected in any case.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return Approved, nil
	case "reject", "rejected":
		return Rejected, nil
	}
	return Unset, fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

var (
	ErrNotFound        = errors.New("approval token not found")
	ErrAlreadyDecided  = errors.New("approval already decided")
	ErrDecisionPending = errors.New("approval decision pending")
	ErrInvalidDecision = errors.New("decision must be approve or reject")
	ErrAlreadyParked   = errors.New("run already parked")
)

// Checkpoint is everything a run produced before it was parked.
type Checkpoint struct {
	RunID          string                   `json:"run_id"`
	Prompt         string                   `json:"prompt"`
	Language       string                   `json:"language"`
	Requirements   *artifact.Requirements   `json:"requirements"`
	DatabaseDesign *artifact.DatabaseDesign `json:"database_design"`
	Validation     *validator.Result        `json:"validation"`
	Review         *artifact.Review         `json:"review"`
	StartedAt      time.Time                `json:"started_at"`
}

// Record is a parked run and its decision.
type Record struct {
	Token      string     `json:"approval_token"`
	RunID      string     `json:"run_id"`
	Checkpoint Checkpoint `json:"checkpoint"`
	Decision   Decision   `json:"decision"`
	Comment    string     `json:"comment,omitempty"`
	DecidedBy  string     `json:"decided_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
}

// DecisionInput is a human decision.
type DecisionInput struct {
	Decision  Decision
	Comment   string
	DecidedBy string
}

func (in DecisionInput) validate() error {
	if in.Decision != Approved && in.Decision != Rejected {
		return fmt.Errorf("%w: %q", ErrInvalidDecision, in.Decision)
	}
	return nil
}

// Store holds parked runs. Every operation is atomic per token.
type Store interface {
	// Park stores cp with decision UNSET and returns a fresh token.
	Park(ctx context.Context, cp Checkpoint) (string, error)
	// RecordDecision sets the decision. It fails ErrNotFound for an unknown
	// token and ErrAlreadyDecided once any decision is stored.
	RecordDecision(ctx context.Context, token string, in DecisionInput) (*Record, error)
	// Resume returns the decided record and removes it. It fails ErrNotFound
	// for an unknown or already resumed token and ErrDecisionPending while
	// the decision is UNSET.
	Resume(ctx context.Context, token string) (*Record, error)
	// Get returns the record without consuming it.
	Get(ctx context.Context, token string) (*Record, error)
	// Pending counts records still awaiting a decision.
	Pending(ctx context.Context) (int, error)
	Close() error
}
