// Package main provides the entry point for genforge-service.
//
// genforge-service drives a natural-language prompt through a phased LLM
// pipeline (schema extraction, code generation, review, documentation) and
// persists the result as a versioned project artifact, streaming progress
// to callers over SSE.
//
// Usage:
//
//	genforge-service                    Start the service (default)
//	genforge-service serve              Start the service
//	genforge-service version            Show version
//	genforge-service status             Show service status
//	genforge-service stop               Stop the running service
//	genforge-service init-config        Create example configuration file
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/genforge-dev/genforge/internal/api"
	"github.com/genforge-dev/genforge/internal/config"
	"github.com/genforge-dev/genforge/internal/logger"
	"github.com/genforge-dev/genforge/internal/service"
	"github.com/genforge-dev/genforge/pkg/artifact"
	"github.com/genforge-dev/genforge/pkg/autoproject"
	"github.com/genforge-dev/genforge/pkg/events"
	"github.com/genforge-dev/genforge/pkg/generation"
	"github.com/genforge-dev/genforge/pkg/iteration"
	"github.com/genforge-dev/genforge/pkg/pipeline"
	"github.com/genforge-dev/genforge/pkg/provider"
	"github.com/genforge-dev/genforge/pkg/stream"
)

// version is set via -ldflags at build time
var version = "dev"

// Command-line flags
var (
	configPath string
)

func main() {
	api.SetVersion(version)

	// Parse global flags that appear before the command
	args := os.Args[1:]
	command := ""
	cmdArgs := []string{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--config=") {
			configPath = strings.TrimPrefix(arg, "--config=")
		} else if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			i++
		} else if strings.HasPrefix(arg, "-") {
			// Skip unknown flags for now
		} else if command == "" {
			command = arg
		} else {
			cmdArgs = append(cmdArgs, arg)
		}
	}

	// Default command is serve
	if command == "" {
		command = "serve"
	}

	var err error
	switch command {
	case "serve", "start":
		err = cmdServe(cmdArgs)
	case "version", "-v", "--version":
		cmdVersion()
	case "status":
		err = cmdStatus()
	case "stop":
		err = cmdStop()
	case "init-config":
		err = cmdInitConfig()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`genforge-service - Prompt-driven code generation orchestration service

Usage:
  genforge-service [flags] [command] [args]

Commands:
  serve         Start the service (default)
  version       Show version information
  status        Show service status
  stop          Stop the running service
  init-config   Create example configuration file
  help          Show this help

Flags:
  --config PATH   Path to configuration file (default: ~/.genforge-service/config.toml)

Environment:
  GEMINI_API_KEY        API key for the Gemini backend
  HUGGINGFACE_API_KEY   API key for the HuggingFace backend
  GENFORGE_CONFIG       Path to configuration file (alternative to --config)
  GENFORGE_DATA_DIR     Override data directory

Configuration:
  Config file: ~/.genforge-service/config.toml (TOML format)

Examples:
  genforge-service                         Start the service with defaults
  genforge-service --config /path/to.toml  Start with custom config
  genforge-service init-config             Create example config file
  curl -X POST localhost:8420/api/v1/generate -d '{"prompt":"a todo api"}'
  curl localhost:8420/health               Check service health`)
}

func cmdVersion() {
	fmt.Printf("genforge-service version %s\n", version)
}

func getConfigPath() string {
	// Priority: --config flag > GENFORGE_CONFIG env > default
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("GENFORGE_CONFIG"); envPath != "" {
		return envPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if envDataDir := os.Getenv("GENFORGE_DATA_DIR"); envDataDir != "" {
		cfg.Service.DataDir = envDataDir
		cfg.Storage.StorageRoot = cfg.Service.DataDir + "/projects"
	}
	return cfg, nil
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if running, pid := service.IsRunning(cfg); running {
		return fmt.Errorf("service already running (PID %d)", pid)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	logger.SetupLogger(cfg)

	applyStageTimeouts(cfg)
	autoproject.SetDedupWindow(time.Duration(cfg.Generation.AutoProjectDedupWindowSecs) * time.Second)

	registry := provider.NewRegistry(providerConfigFrom(cfg), provider.NewDefaultFactory())

	if cfgWatcher, err := config.NewWatcher(getConfigPath(), func(reloaded *config.Config, loadErr error) {
		if loadErr != nil {
			logger.GetLogger().Warn().Err(loadErr).Msg("config reload failed, keeping previous providers config")
			return
		}
		registry.SetConfig(providerConfigFrom(reloaded))
		logger.GetLogger().Info().Msg("reloaded provider configuration from disk")
	}); err != nil {
		logger.GetLogger().Warn().Err(err).Msg("config hot-reload disabled")
	} else {
		cfgWatcher.Start()
		defer cfgWatcher.Stop()
	}

	bus := events.NewBus()

	artifacts, err := artifact.NewLocalStore(cfg.Storage.StorageRoot)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}

	db, err := generation.Open(cfg.GenerationDBPath())
	if err != nil {
		return fmt.Errorf("open generation database: %w", err)
	}
	defer db.Close()

	projects := db.Projects()
	generations := db.Generations()

	autoprojects := autoproject.New(projects)

	codeProvider, err := registry.Get(provider.TaskCodeGeneration)
	if err != nil {
		return fmt.Errorf("resolve code generation provider: %w", err)
	}
	iterations := iteration.New(codeProvider, bus, iteration.Config{
		AllowDataLossWarningOnly: cfg.Generation.AllowDataLossWarningOnly,
	})

	orchestrator := pipeline.NewOrchestrator(registry, bus, artifacts, generations, projects, iterations)

	gateway := stream.NewGateway(bus, stream.Config{
		HeartbeatInterval: time.Duration(cfg.Stream.HeartbeatSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Stream.IdleTimeoutSeconds) * time.Second,
	})

	apiServer := api.NewServer(cfg, projects, generations, artifacts, autoprojects, orchestrator, gateway)

	daemon := service.NewDaemon(cfg)
	if err := daemon.Start(apiServer.Handler()); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Printf("genforge-service v%s started on %s\n", version, cfg.Address())
	fmt.Printf("API: http://%s/api/v1/generate\n", cfg.Address())

	daemon.Wait()

	return nil
}

// applyStageTimeouts overrides the pipeline's package-level stage timeouts
// (§5) when the config sets non-zero values, leaving the compiled-in
// defaults otherwise.
func applyStageTimeouts(cfg *config.Config) {
	if ms := cfg.Generation.SchemaExtractionTimeoutMs; ms > 0 {
		pipeline.SchemaExtractionTimeout = time.Duration(ms) * time.Millisecond
	}
	if ms := cfg.Generation.CodeGenerationTimeoutMs; ms > 0 {
		pipeline.CodeGenerationTimeout = time.Duration(ms) * time.Millisecond
	}
	if ms := cfg.Generation.CodeReviewTimeoutMs; ms > 0 {
		pipeline.CodeReviewTimeout = time.Duration(ms) * time.Millisecond
	}
	if ms := cfg.Generation.DocumentationTimeoutMs; ms > 0 {
		pipeline.DocumentationTimeout = time.Duration(ms) * time.Millisecond
	}
}

// providerConfigFrom translates the TOML-facing ProvidersConfig into the
// ProviderRegistry's Config (§4.2).
func providerConfigFrom(cfg *config.Config) provider.Config {
	p := cfg.Providers
	return provider.Config{
		DefaultProvider:          provider.BackendName(p.DefaultProvider),
		SchemaExtractionProvider: provider.BackendName(p.SchemaExtractionProvider),
		CodeGenerationProvider:   provider.BackendName(p.CodeGenerationProvider),
		CodeReviewProvider:       provider.BackendName(p.CodeReviewProvider),
		DocumentationProvider:    provider.BackendName(p.DocumentationProvider),
		Credentials: map[provider.BackendName]provider.Credentials{
			provider.BackendGemini:      credentialsFrom(p.Gemini),
			provider.BackendHuggingFace: credentialsFrom(p.HuggingFace),
			provider.BackendLocal:       credentialsFrom(p.Local),
		},
	}
}

func credentialsFrom(c config.BackendCredentials) provider.Credentials {
	return provider.Credentials{
		APIKey:          c.APIKey,
		Endpoint:        c.Endpoint,
		ModelID:         c.ModelID,
		Temperature:     c.Temperature,
		MaxOutputTokens: c.MaxOutputTokens,
		SafetyLevel:     c.SafetyLevel,
	}
}

func cmdStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid := service.IsRunning(cfg)
	if running {
		fmt.Printf("genforge-service: running (PID %d)\n", pid)
		fmt.Printf("Address: %s\n", cfg.Address())
		fmt.Printf("Config: %s\n", getConfigPath())
		fmt.Printf("Data: %s\n", cfg.Service.DataDir)
	} else {
		fmt.Println("genforge-service: stopped")
	}

	return nil
}

func cmdStop() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid := service.IsRunning(cfg)
	if !running {
		fmt.Println("genforge-service is not running")
		return nil
	}

	fmt.Printf("Stopping genforge-service (PID %d)...\n", pid)
	if err := service.StopRunning(cfg); err != nil {
		return err
	}

	fmt.Println("genforge-service stopped")
	return nil
}

func cmdInitConfig() error {
	path := getConfigPath()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := config.WriteExampleConfig(path); err != nil {
		return err
	}

	fmt.Printf("Created example configuration: %s\n", path)
	return nil
}
