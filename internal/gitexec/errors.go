package gitexec

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a push failure.
type Kind string

const (
	KindInvalid        Kind = "invalid"
	KindAuth           Kind = "auth"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindSecretDetected Kind = "secret_detected"
	KindNetwork        Kind = "network"
	// KindPartial means some files landed before the failure. Landed lists them.
	KindPartial Kind = "partial"
)

// GitError is the only error type executors return.
type GitError struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "create_tree"
	Message string
	Landed  []string
	Err     error
}

func (e *GitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed (%s): %s", e.Op, e.Kind, e.Message)
	if len(e.Landed) > 0 {
		fmt.Fprintf(&b, " [landed: %s]", strings.Join(e.Landed, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *GitError) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, msg string, err error) *GitError {
	return &GitError{Kind: kind, Op: op, Message: msg, Err: err}
}

// KindOf returns the kind of err, or "" when err is not a *GitError.
func KindOf(err error) Kind {
	var ge *GitError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}
