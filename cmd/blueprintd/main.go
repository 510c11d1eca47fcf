// Blueprintd serves the blueprint pipeline over HTTP, or as MCP tools on
// stdio with the mcp subcommand.
//
// It loads configuration from ~/.config/blueprint/config.yaml (or the file
// given with -config) and BLUEPRINT_* environment variables, then wires the
// model, the approval store, git executors and the event sink into the
// pipeline engine.
//
// Usage:
//
//	# Start with defaults
//	blueprintd
//
//	# Serve MCP tools on stdio
//	blueprintd mcp
//
//	# Persist approvals and push successful runs
//	BLUEPRINT_APPROVAL_BACKEND=sqlite \
//	BLUEPRINT_APPROVAL_SQLITE_PATH=/var/lib/blueprint/approvals.db \
//	BLUEPRINT_GITHUB_TOKEN=ghp_... \
//	BLUEPRINT_GITHUB_AUTO_PUSH_REPO=octo/blog \
//	blueprintd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/blueprint/internal/approval"
	"github.com/fyrsmithlabs/blueprint/internal/config"
	"github.com/fyrsmithlabs/blueprint/internal/events"
	"github.com/fyrsmithlabs/blueprint/internal/generator"
	"github.com/fyrsmithlabs/blueprint/internal/gitexec"
	httpserver "github.com/fyrsmithlabs/blueprint/internal/http"
	"github.com/fyrsmithlabs/blueprint/internal/logging"
	"github.com/fyrsmithlabs/blueprint/internal/mcp"
	"github.com/fyrsmithlabs/blueprint/internal/pipeline"
	"github.com/fyrsmithlabs/blueprint/internal/secrets"
	"github.com/fyrsmithlabs/blueprint/internal/stages"
	"github.com/fyrsmithlabs/blueprint/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const instrumentationName = "github.com/fyrsmithlabs/blueprint"

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	serveMCP := false
	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		case "mcp":
			serveMCP = true
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  blueprintd [-config path]       Start the HTTP server\n")
			fmt.Fprintf(os.Stderr, "  blueprintd [-config path] mcp   Serve MCP tools on stdio\n")
			fmt.Fprintf(os.Stderr, "  blueprintd version              Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath, serveMCP); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("blueprintd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every dependency and serves until ctx is cancelled.
func run(ctx context.Context, configPath string, serveMCP bool) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := newLogger(cfg, serveMCP)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting blueprintd",
		zap.String("version", version),
		zap.String("llm.provider", cfg.LLM.Provider),
		zap.String("llm.model", cfg.LLM.Model),
		zap.String("approval.backend", cfg.Approval.Backend),
	)

	model, err := generator.NewModel(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}
	gen, err := generator.New(model, generator.PolicyFromConfig(cfg.Generator),
		generator.WithLogger(logger.Named("generator")),
		generator.WithRateLimit(cfg.LLM.RequestsPerMinute, cfg.LLM.Burst),
		generator.WithTracer(tel.Tracer(instrumentationName+"/generator")),
		generator.WithMeter(tel.Meter(instrumentationName+"/generator")),
	)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}
	agents := stages.New(gen, stages.Budgets{
		MaxTokens:          cfg.Generator.MaxTokens,
		DesignMaxTokens:    cfg.Generator.DesignMaxTokens,
		GitMaxTokens:       cfg.Generator.GitMaxTokens,
		GitBaseTemperature: cfg.Generator.GitBaseTemperature,
	})

	store, err := newApprovalStore(cfg.Approval)
	if err != nil {
		return err
	}
	defer store.Close()

	executor, err := newExecutor(cfg.GitHub, logger)
	if err != nil {
		return err
	}

	var sink events.Sink = events.NopSink{}
	if cfg.Events.NATSURL != "" {
		natsSink, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsSink.Close()
		sink = natsSink
		logger.Info(ctx, "publishing run events", zap.String("nats_url", cfg.Events.NATSURL))
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithSink(sink),
		pipeline.WithTracer(tel.Tracer(instrumentationName + "/pipeline")),
		pipeline.WithMeter(tel.Meter(instrumentationName + "/pipeline")),
	}
	if cfg.GitHub.AutoPushRepo != "" {
		opts = append(opts, pipeline.WithAutoPush(executor, pipeline.PushTarget{
			Repo:            cfg.GitHub.AutoPushRepo,
			Credentials:     gitexec.Credentials{Token: cfg.GitHub.Token},
			CreateIfMissing: cfg.GitHub.CreateIfMissing,
			Private:         cfg.GitHub.Private,
		}))
		logger.Info(ctx, "automatic push enabled", zap.String("repo", cfg.GitHub.AutoPushRepo))
	}
	engine, err := pipeline.New(agents, store, opts...)
	if err != nil {
		return fmt.Errorf("failed to create pipeline engine: %w", err)
	}

	if serveMCP {
		mcpServer, err := mcp.NewServer(&mcp.Config{
			Name:    "blueprint",
			Version: version,
			Logger:  logger.Named("mcp"),
			Metrics: mcp.NewMetrics(tel.Meter(instrumentationName+"/mcp"), logger),
		}, engine, store)
		if err != nil {
			return fmt.Errorf("failed to create mcp server: %w", err)
		}
		return mcpServer.Run(ctx)
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Engine:    engine,
		Agents:    agents,
		Approvals: store,
		Pusher:    executor,
		Metrics:   httpserver.NewHTTPMetrics(tel.Meter(instrumentationName+"/http"), logger),
		Tracer:    tel.Tracer(instrumentationName + "/http"),
	}, logger.Named("http"), &httpserver.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	return nil
}

// newLogger keeps stdout free for the protocol when serving MCP.
func newLogger(cfg *config.Config, serveMCP bool) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	if serveMCP {
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
	}
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format
	logCfg.Fields["version"] = version
	return logging.NewLogger(logCfg, nil)
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Endpoint = cfg.Telemetry.Endpoint
	tc.Protocol = cfg.Telemetry.Protocol
	tc.Insecure = cfg.Telemetry.Insecure
	tc.SampleRate = cfg.Telemetry.SampleRate
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = version
	return tc
}

func newApprovalStore(cfg config.ApprovalConfig) (approval.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := approval.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open approval store: %w", err)
		}
		return store, nil
	default:
		return approval.NewMemoryStore(), nil
	}
}

// newExecutor routes owner/repo pushes to GitHub and remote_url pushes to
// plain git. Both run the same secret scan first.
func newExecutor(cfg config.GitHubConfig, logger *logging.Logger) (*gitexec.Router, error) {
	allowlist, err := secrets.LoadAllowlist(cfg.SecretsAllowlist)
	if err != nil {
		return nil, fmt.Errorf("failed to load secrets allowlist: %w", err)
	}
	scanner, err := secrets.NewScanner(allowlist)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret scanner: %w", err)
	}

	retry := gitexec.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries

	ghOpts := []gitexec.GitHubOption{
		gitexec.WithRetry(retry),
		gitexec.WithScanner(scanner),
		gitexec.WithLogger(logger.Named("github")),
	}
	if cfg.APIURL != "" {
		ghOpts = append(ghOpts, gitexec.WithAPIURL(cfg.APIURL))
	}
	return &gitexec.Router{
		GitHub: gitexec.NewGitHubExecutor(ghOpts...),
		Remote: gitexec.NewRemoteExecutor(scanner, logger.Named("git")),
	}, nil
}
