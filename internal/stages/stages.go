// Package stages wraps the structured generator with the schema and prompt
// of each generation stage. Stages are stateless: they read prior artifacts
// and return a new one or a *generator.GenerationError.
package stages

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/blueprint/internal/artifact"
	"github.com/fyrsmithlabs/blueprint/internal/generator"
)

// Stage names, used in generation errors and logs.
const (
	Requirements   = "requirements"
	DatabaseDesign = "database_design"
	Review         = "review"
	GitStrategy    = "git_strategy"
)

// Budgets are the per-stage output limits.
type Budgets struct {
	MaxTokens          int
	DesignMaxTokens    int
	GitMaxTokens       int
	GitBaseTemperature float64
}

// DefaultBudgets returns 1024 tokens for requirements and review, 2048 for
// the schema and 4096 for repository files, which also start warmer.
func DefaultBudgets() Budgets {
	return Budgets{MaxTokens: 1024, DesignMaxTokens: 2048, GitMaxTokens: 4096, GitBaseTemperature: 0.2}
}

// Stages runs the four generation stages.
type Stages struct {
	gen     *generator.Generator
	budgets Budgets
}

// New creates Stages backed by gen.
func New(gen *generator.Generator, budgets Budgets) *Stages {
	return &Stages{gen: gen, budgets: budgets}
}

// Requirements extracts entities and relationships from a prompt.
func (s *Stages) Requirements(ctx context.Context, prompt string) (*artifact.Requirements, error) {
	if prompt == "" {
		return nil, errors.New("prompt is required")
	}
	return generator.Generate[artifact.Requirements](ctx, s.gen, generator.Request{
		Stage:        Requirements,
		SystemPrompt: requirementsPrompt,
		Input:        prompt,
		MaxTokens:    s.budgets.MaxTokens,
	})
}

// DatabaseDesign designs a schema for req.
func (s *Stages) DatabaseDesign(ctx context.Context, req *artifact.Requirements) (*artifact.DatabaseDesign, error) {
	if req == nil {
		return nil, errors.New("requirements are required")
	}
	return generator.Generate[artifact.DatabaseDesign](ctx, s.gen, generator.Request{
		Stage:        DatabaseDesign,
		SystemPrompt: databaseDesignPrompt,
		Input:        req,
		MaxTokens:    s.budgets.DesignMaxTokens,
	})
}

// Review assesses design and decides whether it needs human approval.
func (s *Stages) Review(ctx context.Context, design *artifact.DatabaseDesign) (*artifact.Review, error) {
	if design == nil {
		return nil, errors.New("database design is required")
	}
	return generator.Generate[artifact.Review](ctx, s.gen, generator.Request{
		Stage:        Review,
		SystemPrompt: reviewPrompt,
		Input:        design,
		MaxTokens:    s.budgets.MaxTokens,
	})
}

// GitStrategy proposes a branch and starter files for pc.
func (s *Stages) GitStrategy(ctx context.Context, pc artifact.ProjectContext) (*artifact.GitStrategy, error) {
	return generator.Generate[artifact.GitStrategy](ctx, s.gen, generator.Request{
		Stage:           GitStrategy,
		SystemPrompt:    gitStrategyPrompt,
		Input:           pc,
		MaxTokens:       s.budgets.GitMaxTokens,
		BaseTemperature: s.budgets.GitBaseTemperature,
	})
}
