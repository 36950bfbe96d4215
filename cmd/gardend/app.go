package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"garden-of-memory/internal/kernel"
	"garden-of-memory/internal/source"
	"garden-of-memory/internal/substrate"
	"garden-of-memory/internal/workflow"
	"garden-of-memory/membranes/curator"
	"garden-of-memory/membranes/recall"
	"garden-of-memory/membranes/scribe"
	"garden-of-memory/pkg/garden"
	"garden-of-memory/pkg/llm"
	llmconfig "garden-of-memory/pkg/llm/config"
	"garden-of-memory/pkg/llm/providers/gemini"
	"garden-of-memory/pkg/llm/providers/openai"
)

const (
	envConfigFile           = "GARDEN_CONFIG_FILE"
	defaultConfigFilePath   = "config/gardend.json"
	alternateConfigFilePath = "bin/config/gardend.json"

	defaultMembraneHookTimeout = 5 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultSubscriptionBuffer  = 256
	defaultSubscriptionWorker  = 1
	defaultHandlerTimeout      = 3 * time.Second
	defaultTaskTimeout         = 30 * time.Second
	defaultWorkflowsDir        = "config/workflows"
)

type appConfig struct {
	logLevel slog.Level

	membraneHookTimeout time.Duration
	shutdownTimeout     time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int
	handlerTimeout      time.Duration
	taskTimeout         time.Duration

	checkpointPath string
	saveOnShutdown bool

	workflowsDir     string
	startupWorkflows []string

	sources []source.Definition

	llmConfigPath string
}

type fileConfig struct {
	LogLevel  string              `json:"log_level"`
	Kernel    fileKernelConfig    `json:"kernel"`
	Substrate fileSubstrateConfig `json:"substrate"`
	Workflows fileWorkflowConfig  `json:"workflows"`
	Sources   []fileSourceEntry   `json:"sources"`
	LLM       fileLLMConfig       `json:"llm"`
}

type fileKernelConfig struct {
	MembraneHookTimeout string `json:"membrane_hook_timeout"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers"`
	HandlerTimeout      string `json:"handler_timeout"`
	TaskTimeout         string `json:"task_timeout"`
}

type fileSubstrateConfig struct {
	CheckpointPath string `json:"checkpoint_path"`
	SaveOnShutdown *bool  `json:"save_on_shutdown"`
}

type fileWorkflowConfig struct {
	Dir     string   `json:"dir"`
	Startup []string `json:"startup"`
}

type fileSourceEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

type fileLLMConfig struct {
	ConfigFile string `json:"config_file"`
}

func run() error {
	sourceRegistry, err := source.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin source registry: %w", err)
	}

	cfg, err := loadConfig(sourceRegistry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	kernelRuntime := buildKernelRuntime(logger, cfg)

	store := substrate.NewStore()
	ledger := substrate.NewLedger(store,
		substrate.WithLogger(logger),
		substrate.WithEventSink(kernelRuntime.EventBus()),
	)
	querySvc := substrate.NewQueryService(store)

	if cfg.checkpointPath != "" {
		checkpointPath, err := prepareCheckpointPath(cfg.checkpointPath)
		if err != nil {
			return fmt.Errorf("prepare checkpoint path: %w", err)
		}
		cfg.checkpointPath = checkpointPath
		if err := restoreCheckpoint(logger, ledger, checkpointPath); err != nil {
			return fmt.Errorf("restore checkpoint: %w", err)
		}
	}

	if err := registerRuntimeServices(kernelRuntime, logger, ledger, querySvc); err != nil {
		return err
	}

	scribeMembrane, err := configureLLM(kernelRuntime, cfg)
	if err != nil {
		return err
	}
	if err := registerRuntimeMembranes(context.Background(), kernelRuntime, scribeMembrane); err != nil {
		return err
	}

	if err := registerRuntimeSources(context.Background(), kernelRuntime, logger, cfg, sourceRegistry); err != nil {
		return err
	}

	stats, err := querySvc.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("read substrate stats: %w", err)
	}
	logger.Info("garden ready",
		"fragments", stats.FragmentCount,
		"edges", stats.EdgeCount,
		"sources", len(cfg.sources),
		"startup_workflows", len(cfg.startupWorkflows),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}

	if cfg.saveOnShutdown && cfg.checkpointPath != "" {
		if err := ledger.SaveCheckpoint(cfg.checkpointPath); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		logger.Info("checkpoint saved", "path", cfg.checkpointPath)
	}

	return nil
}

func loadConfig(registry *source.Registry) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		membraneHookTimeout: defaultMembraneHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,
		handlerTimeout:      defaultHandlerTimeout,
		taskTimeout:         defaultTaskTimeout,

		saveOnShutdown: true,
		workflowsDir:   defaultWorkflowsDir,

		sources: make([]source.Definition, 0),
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	if err := applyKernelConfig(cfg, parsed.Kernel); err != nil {
		return err
	}

	cfg.checkpointPath = strings.TrimSpace(parsed.Substrate.CheckpointPath)
	if parsed.Substrate.SaveOnShutdown != nil {
		cfg.saveOnShutdown = *parsed.Substrate.SaveOnShutdown
	}

	if dir := strings.TrimSpace(parsed.Workflows.Dir); dir != "" {
		cfg.workflowsDir = dir
	}
	cfg.startupWorkflows = make([]string, 0, len(parsed.Workflows.Startup))
	for index, name := range parsed.Workflows.Startup {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return fmt.Errorf("parse workflows.startup[%d]: empty workflow name", index)
		}
		cfg.startupWorkflows = append(cfg.startupWorkflows, trimmed)
	}

	cfg.sources = make([]source.Definition, 0, len(parsed.Sources))
	for index, entry := range parsed.Sources {
		if len(entry.Config) == 0 {
			return fmt.Errorf("parse sources[%d].config: required", index)
		}
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		cfg.sources = append(cfg.sources, source.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
	}

	cfg.llmConfigPath = strings.TrimSpace(parsed.LLM.ConfigFile)

	return nil
}

func applyKernelConfig(cfg *appConfig, parsed fileKernelConfig) error {
	if rawTimeout := strings.TrimSpace(parsed.MembraneHookTimeout); rawTimeout != "" {
		timeout, err := parsePositiveDuration(rawTimeout)
		if err != nil {
			return fmt.Errorf("parse kernel.membrane_hook_timeout: %w", err)
		}
		cfg.membraneHookTimeout = timeout
	}
	if rawTimeout := strings.TrimSpace(parsed.ShutdownTimeout); rawTimeout != "" {
		timeout, err := parsePositiveDuration(rawTimeout)
		if err != nil {
			return fmt.Errorf("parse kernel.shutdown_timeout: %w", err)
		}
		cfg.shutdownTimeout = timeout
	}
	if rawTimeout := strings.TrimSpace(parsed.HandlerTimeout); rawTimeout != "" {
		timeout, err := parsePositiveDuration(rawTimeout)
		if err != nil {
			return fmt.Errorf("parse kernel.handler_timeout: %w", err)
		}
		cfg.handlerTimeout = timeout
	}
	if rawTimeout := strings.TrimSpace(parsed.TaskTimeout); rawTimeout != "" {
		timeout, err := parsePositiveDuration(rawTimeout)
		if err != nil {
			return fmt.Errorf("parse kernel.task_timeout: %w", err)
		}
		cfg.taskTimeout = timeout
	}
	if parsed.SubscriptionBuffer != nil {
		if *parsed.SubscriptionBuffer <= 0 {
			return fmt.Errorf("parse kernel.subscription_buffer: must be > 0")
		}
		cfg.subscriptionBuffer = *parsed.SubscriptionBuffer
	}
	if parsed.SubscriptionWorkers != nil {
		if *parsed.SubscriptionWorkers <= 0 {
			return fmt.Errorf("parse kernel.subscription_workers: must be > 0")
		}
		cfg.subscriptionWorkers = *parsed.SubscriptionWorkers
	}

	return nil
}

func parsePositiveDuration(raw string) (time.Duration, error) {
	timeout, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("must be > 0")
	}

	return timeout, nil
}

func validateAppConfig(cfg *appConfig, registry *source.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil source registry")
	}

	knownTypes := make(map[string]struct{})
	for _, sourceType := range registry.Types() {
		knownTypes[sourceType] = struct{}{}
	}

	enabledSources := 0
	seenNames := make(map[string]struct{}, len(cfg.sources))
	for _, definition := range cfg.sources {
		if definition.Name == "" {
			return fmt.Errorf("sources[].name is required")
		}
		if definition.Type == "" {
			return fmt.Errorf("sources[%s].type is required", definition.Name)
		}
		if _, exists := seenNames[definition.Name]; exists {
			return fmt.Errorf("sources[%s]: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if !definition.Enabled {
			continue
		}
		if _, known := knownTypes[definition.Type]; !known {
			return fmt.Errorf("sources[%s].type: unsupported type %s", definition.Name, definition.Type)
		}
		enabledSources++
	}

	if enabledSources == 0 && len(cfg.startupWorkflows) == 0 {
		return fmt.Errorf("at least one enabled source or startup workflow is required")
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithMembraneHookTimeout(cfg.membraneHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
		kernel.WithDefaultHandlerTimeout(cfg.handlerTimeout),
		kernel.WithTaskTimeout(cfg.taskTimeout),
	)
}

// prepareCheckpointPath normalizes the checkpoint path to an absolute one and
// ensures its parent directory exists.
func prepareCheckpointPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("checkpoint path is required")
	}

	absolute, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve checkpoint path %s: %w", trimmed, err)
	}
	if err := os.MkdirAll(filepath.Dir(absolute), 0o700); err != nil {
		return "", fmt.Errorf("create checkpoint dir for %s: %w", absolute, err)
	}

	return absolute, nil
}

// restoreCheckpoint loads persisted state if a readable snapshot exists. A
// missing or corrupt snapshot starts the garden empty rather than refusing to
// boot; corruption is logged so the operator can recover the file before the
// next save overwrites it.
func restoreCheckpoint(logger *slog.Logger, ledger *substrate.Ledger, path string) error {
	err := ledger.LoadCheckpoint(path)
	switch {
	case err == nil:
		logger.Info("checkpoint loaded", "path", path)
		return nil
	case errors.Is(err, os.ErrNotExist):
		logger.Info("no checkpoint found, starting empty", "path", path)
		return nil
	case errors.Is(err, garden.ErrCheckpointCorrupt):
		logger.Warn("checkpoint corrupt, starting empty", "path", path, "error", err)
		return nil
	default:
		return err
	}
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	ledger *substrate.Ledger,
	querySvc *substrate.QueryService,
) error {
	if err := kernelRuntime.RegisterService(garden.ServiceLogger, logger); err != nil {
		return fmt.Errorf("register logger service: %w", err)
	}
	if err := kernelRuntime.RegisterService(garden.ServiceLedger, ledger); err != nil {
		return fmt.Errorf("register ledger service: %w", err)
	}
	if err := kernelRuntime.RegisterService(garden.ServiceQuery, querySvc); err != nil {
		return fmt.Errorf("register query service: %w", err)
	}

	return nil
}

// configureLLM loads the optional LLM configuration, builds the configured
// providers, registers the provider registry service, and constructs the
// scribe membrane. Without an LLM config the garden runs without a scribe.
func configureLLM(kernelRuntime *kernel.Kernel, cfg appConfig) (*scribe.Membrane, error) {
	if cfg.llmConfigPath == "" {
		return nil, nil
	}

	llmCfg, err := llmconfig.LoadFile(cfg.llmConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load llm config: %w", err)
	}

	providers, err := buildLLMProviders(llmCfg)
	if err != nil {
		return nil, err
	}
	providerRegistry, err := llm.NewRegistry(providers)
	if err != nil {
		return nil, fmt.Errorf("build llm provider registry: %w", err)
	}
	if err := kernelRuntime.RegisterService(garden.ServiceLLMProviderRegistry, providerRegistry); err != nil {
		return nil, fmt.Errorf("register llm provider registry service: %w", err)
	}

	scribeMembrane, err := scribe.New(llmCfg)
	if err != nil {
		return nil, fmt.Errorf("build scribe membrane: %w", err)
	}

	return scribeMembrane, nil
}

func buildLLMProviders(cfg llmconfig.Config) (map[string]garden.LLMProvider, error) {
	providers := make(map[string]garden.LLMProvider, len(cfg.Providers))
	for name, profile := range cfg.Providers {
		switch profile.Type {
		case "openai":
			providerConfig := openai.ProviderConfig{
				APIKey:  profile.APIKey,
				BaseURL: profile.BaseURL,
			}
			if profile.OpenAI != nil {
				providerConfig.Organization = profile.OpenAI.Organization
				providerConfig.Project = profile.OpenAI.Project
				providerConfig.MaxRetries = profile.OpenAI.MaxRetries
			}
			provider, err := openai.New(providerConfig)
			if err != nil {
				return nil, fmt.Errorf("build llm provider %s: %w", name, err)
			}
			providers[name] = provider
		case "gemini":
			providerConfig := gemini.ProviderConfig{
				APIKey:  profile.APIKey,
				BaseURL: profile.BaseURL,
			}
			if profile.Gemini != nil {
				providerConfig.APIVersion = profile.Gemini.APIVersion
				providerConfig.ThinkingBudget = profile.Gemini.RequestDefaults.ThinkingBudget
				providerConfig.ThinkingLevel = profile.Gemini.RequestDefaults.ThinkingLevel
				providerConfig.ResponseMIMEType = profile.Gemini.RequestDefaults.ResponseMIMEType
			}
			provider, err := gemini.New(providerConfig)
			if err != nil {
				return nil, fmt.Errorf("build llm provider %s: %w", name, err)
			}
			providers[name] = provider
		default:
			return nil, fmt.Errorf("build llm provider %s: unsupported type %q", name, profile.Type)
		}
	}

	return providers, nil
}

func registerRuntimeMembranes(
	ctx context.Context,
	kernelRuntime *kernel.Kernel,
	scribeMembrane *scribe.Membrane,
) error {
	if err := kernelRuntime.RegisterMembrane(ctx, recall.New()); err != nil {
		return fmt.Errorf("register recall membrane: %w", err)
	}
	if err := kernelRuntime.RegisterMembrane(ctx, curator.New()); err != nil {
		return fmt.Errorf("register curator membrane: %w", err)
	}
	if scribeMembrane != nil {
		if err := kernelRuntime.RegisterMembrane(ctx, scribeMembrane); err != nil {
			return fmt.Errorf("register scribe membrane: %w", err)
		}
	}

	return nil
}

// registerRuntimeSources wires configured ingestion sources plus the startup
// workflow runner when startup workflows are configured.
func registerRuntimeSources(
	ctx context.Context,
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	cfg appConfig,
	sourceRegistry *source.Registry,
) error {
	sources, err := sourceRegistry.BuildEnabled(ctx, cfg.sources, logger)
	if err != nil {
		return fmt.Errorf("build sources: %w", err)
	}
	for _, built := range sources {
		if err := kernelRuntime.RegisterSource(built); err != nil {
			return fmt.Errorf("register source %s: %w", built.Name(), err)
		}
	}

	catalog := workflow.NewCatalog()
	specs, err := workflow.LoadDefinitionDir(cfg.workflowsDir)
	if err != nil {
		return fmt.Errorf("load workflow definitions: %w", err)
	}
	for _, spec := range specs {
		if err := catalog.Define(spec); err != nil {
			return fmt.Errorf("define workflow %s: %w", spec.Name, err)
		}
	}

	if len(cfg.startupWorkflows) == 0 {
		return nil
	}
	for _, name := range cfg.startupWorkflows {
		if _, err := catalog.Get(name); err != nil {
			return fmt.Errorf("startup workflow %s: %w", name, err)
		}
	}

	orchestrator := workflow.NewOrchestrator(
		kernelRuntime.Dispatcher(),
		kernelRuntime.EventBus(),
		workflow.WithLogger(logger),
	)
	runner := workflow.NewRunner(catalog, orchestrator, cfg.startupWorkflows, logger)
	if err := kernelRuntime.RegisterSource(runner); err != nil {
		return fmt.Errorf("register workflow runner: %w", err)
	}

	return nil
}
