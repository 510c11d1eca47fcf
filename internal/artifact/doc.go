// Package artifact defines the immutable records produced by each pipeline
// stage and their structural conformance rules.
//
// Every artifact type implements Validate, which the generator runs after
// JSON schema conformance and before accepting a model response. Types that
// carry defaults or case-insensitive enums also implement Normalize, which
// runs first.
package artifact

import (
	"errors"
	"fmt"
)

// Conformer is implemented by every artifact.
type Conformer interface {
	Validate() error
}

// Normalizer is implemented by artifacts with defaults or case-folded fields.
type Normalizer interface {
	Normalize()
}

// ErrNonConforming is wrapped by every Validate failure.
var ErrNonConforming = errors.New("artifact does not conform")

type problems []error

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Errorf(format, args...))
}

func (p problems) err(kind string) error {
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrNonConforming, kind, errors.Join(p...))
}
