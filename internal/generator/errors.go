package generator

import (
	"errors"
	"fmt"
)

// ErrGenerationFailed matches every *GenerationError via errors.Is.
var ErrGenerationFailed = errors.New("generation failed")

// GenerationError reports that a stage exhausted its attempts.
type GenerationError struct {
	Stage    string
	Attempts int
	LastErr  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: generation failed after %d attempt(s): %v", e.Stage, e.Attempts, e.LastErr)
}

func (e *GenerationError) Unwrap() error { return e.LastErr }

func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }

// Attempt failure causes, wrapped into LastErr.
var (
	ErrAttemptTimeout = errors.New("attempt timed out")
	ErrNoJSON         = errors.New("response contains no JSON object")
	ErrSchema         = errors.New("response does not match schema")
	ErrEmptyResponse  = errors.New("model returned no choices")
)
