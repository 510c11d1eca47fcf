// Package config loads blueprint service configuration.
//
// Values come from a YAML file and BLUEPRINT_* environment variables, in that
// order of precedence (env wins), and fall back to the defaults in Default.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete blueprint configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	LLM       LLMConfig       `koanf:"llm"`
	Generator GeneratorConfig `koanf:"generator"`
	Approval  ApprovalConfig  `koanf:"approval"`
	GitHub    GitHubConfig    `koanf:"github"`
	Events    EventsConfig    `koanf:"events"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LLMConfig selects the model backing the generation stages.
type LLMConfig struct {
	Provider          string `koanf:"provider"` // openai, anthropic or ollama
	Model             string `koanf:"model"`
	BaseURL           string `koanf:"base_url"`
	APIKey            Secret `koanf:"api_key"`
	RequestsPerMinute int    `koanf:"requests_per_minute"`
	Burst             int    `koanf:"burst"`
}

// GeneratorConfig is the retry policy applied to every structured generation call.
type GeneratorConfig struct {
	MaxAttempts     int           `koanf:"max_attempts"`
	BaseTemperature float64       `koanf:"base_temperature"`
	TemperatureStep float64       `koanf:"temperature_step"`
	MaxTemperature  float64       `koanf:"max_temperature"`
	RetryDelay      time.Duration `koanf:"retry_delay"`
	AttemptTimeout  time.Duration `koanf:"attempt_timeout"`
	MaxTokens       int           `koanf:"max_tokens"`

	// SQL schemas and whole files need larger budgets than the other stages.
	DesignMaxTokens int `koanf:"design_max_tokens"`

	GitMaxTokens       int     `koanf:"git_max_tokens"`
	GitBaseTemperature float64 `koanf:"git_base_temperature"`
}

// ApprovalConfig selects the approval store backend.
type ApprovalConfig struct {
	Backend    string `koanf:"backend"` // memory or sqlite
	SQLitePath string `koanf:"sqlite_path"`
}

// GitHubConfig configures repository pushes.
type GitHubConfig struct {
	Token           Secret `koanf:"token"`
	APIURL          string `koanf:"api_url"`
	AutoPushRepo    string `koanf:"auto_push_repo"` // owner/repo; empty disables push after a successful run
	CreateIfMissing bool   `koanf:"create_if_missing"`
	Private         bool   `koanf:"private"`
	MaxRetries      int    `koanf:"max_retries"`

	// SecretsAllowlist is a .gitleaks.toml style file of patterns the
	// pre-push secret scan ignores.
	SecretsAllowlist string `koanf:"secrets_allowlist"`
}

// EventsConfig configures run event publication. An empty NATSURL disables it.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig holds the logging knobs exposed through config files.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds the OpenTelemetry knobs exposed through config files.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Addr returns the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}

	switch c.LLM.Provider {
	case "openai", "anthropic", "ollama":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be openai, anthropic or ollama, got %q", c.LLM.Provider))
	}
	if c.LLM.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("llm.requests_per_minute must be > 0"))
	}

	g := c.Generator
	if g.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("generator.max_attempts must be >= 1, got %d", g.MaxAttempts))
	}
	if g.BaseTemperature < 0 || g.MaxTemperature < g.BaseTemperature {
		errs = append(errs, fmt.Errorf("generator temperatures invalid: base %.2f, max %.2f", g.BaseTemperature, g.MaxTemperature))
	}
	if g.TemperatureStep < 0 {
		errs = append(errs, errors.New("generator.temperature_step must be >= 0"))
	}
	if g.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("generator.attempt_timeout must be > 0"))
	}

	switch c.Approval.Backend {
	case "memory":
	case "sqlite":
		if c.Approval.SQLitePath == "" {
			errs = append(errs, errors.New("approval.sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("approval.backend must be memory or sqlite, got %q", c.Approval.Backend))
	}

	if repo := c.GitHub.AutoPushRepo; repo != "" {
		if parts := strings.Split(repo, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			errs = append(errs, fmt.Errorf("github.auto_push_repo must be owner/repo, got %q", repo))
		}
		if !c.GitHub.Token.IsSet() {
			errs = append(errs, errors.New("github.token is required when github.auto_push_repo is set"))
		}
	}

	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
		errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol))
	}

	return errors.Join(errs...)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// A full run makes four model calls with retries.
		cfg.Server.WriteTimeout = 10 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.Model = "claude-3-5-haiku-latest"
		case "ollama":
			cfg.LLM.Model = "llama3.1"
		default:
			cfg.LLM.Model = "gpt-4o-mini"
		}
	}
	if cfg.LLM.RequestsPerMinute == 0 {
		cfg.LLM.RequestsPerMinute = 50
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 5
	}

	if cfg.Generator.MaxAttempts == 0 {
		cfg.Generator.MaxAttempts = 3
	}
	if cfg.Generator.BaseTemperature == 0 {
		cfg.Generator.BaseTemperature = 0.1
	}
	if cfg.Generator.TemperatureStep == 0 {
		cfg.Generator.TemperatureStep = 0.1
	}
	if cfg.Generator.MaxTemperature == 0 {
		cfg.Generator.MaxTemperature = 0.5
	}
	if cfg.Generator.RetryDelay == 0 {
		cfg.Generator.RetryDelay = 2 * time.Second
	}
	if cfg.Generator.AttemptTimeout == 0 {
		cfg.Generator.AttemptTimeout = 90 * time.Second
	}
	if cfg.Generator.MaxTokens == 0 {
		cfg.Generator.MaxTokens = 1024
	}
	if cfg.Generator.DesignMaxTokens == 0 {
		cfg.Generator.DesignMaxTokens = 2048
	}
	if cfg.Generator.GitMaxTokens == 0 {
		cfg.Generator.GitMaxTokens = 4096
	}
	if cfg.Generator.GitBaseTemperature == 0 {
		cfg.Generator.GitBaseTemperature = 0.2
	}

	if cfg.Approval.Backend == "" {
		cfg.Approval.Backend = "memory"
	}

	if cfg.GitHub.MaxRetries == 0 {
		cfg.GitHub.MaxRetries = 3
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "blueprint.runs"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "blueprint"
	}
}
