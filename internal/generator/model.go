package generator

import (
	"fmt"

	"github.com/fyrsmithlabs/blueprint/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModel builds the langchaingo model named by cfg.Provider.
func NewModel(cfg config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "openai":
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("openai: api key required")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey.Value()), openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)

	case "anthropic":
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("anthropic: api key required")
		}
		opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey.Value()), anthropic.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)

	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)

	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// PolicyFromConfig maps generator settings onto a RetryPolicy.
func PolicyFromConfig(cfg config.GeneratorConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		BaseTemperature: cfg.BaseTemperature,
		TemperatureStep: cfg.TemperatureStep,
		MaxTemperature:  cfg.MaxTemperature,
		Delay:           cfg.RetryDelay,
		AttemptTimeout:  cfg.AttemptTimeout,
	}
}
