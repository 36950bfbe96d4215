package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"garden-of-memory/internal/source"
)

func writeConfigFile(t *testing.T, path string, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func newTestRegistry(t *testing.T) *source.Registry {
	t.Helper()

	registry, err := source.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin source registry: %v", err)
	}

	return registry
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning", input: "warning", want: slog.LevelWarn},
		{name: "error", input: "error", want: slog.LevelError},
		{name: "invalid", input: "trace", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			got, err := parseLogLevel(testCase.input)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErr {
				return
			}
			if got != testCase.want {
				t.Fatalf("level = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("loads all supported fields from config file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "gardend.json")
		writeConfigFile(t, configPath, `{
			"log_level":"warn",
			"kernel":{
				"membrane_hook_timeout":"7s",
				"shutdown_timeout":"15s",
				"subscription_buffer":64,
				"subscription_workers":3,
				"handler_timeout":"9s",
				"task_timeout":"45s"
			},
			"substrate":{
				"checkpoint_path":"state/garden.json",
				"save_on_shutdown":false
			},
			"workflows":{
				"dir":"config/flows",
				"startup":[" nightly-distillation "]
			},
			"sources":[
				{"name":"backlog","type":"replay","config":{"path":"data/backlog.jsonl"}}
			],
			"llm":{"config_file":"config/llm.json"}
		}`)
		t.Setenv(envConfigFile, configPath)

		cfg, err := loadConfig(newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}

		if cfg.logLevel != slog.LevelWarn {
			t.Fatalf("log level = %v, want %v", cfg.logLevel, slog.LevelWarn)
		}
		if cfg.membraneHookTimeout != 7*time.Second {
			t.Fatalf("membrane hook timeout = %s, want 7s", cfg.membraneHookTimeout)
		}
		if cfg.shutdownTimeout != 15*time.Second {
			t.Fatalf("shutdown timeout = %s, want 15s", cfg.shutdownTimeout)
		}
		if cfg.subscriptionBuffer != 64 {
			t.Fatalf("subscription buffer = %d, want 64", cfg.subscriptionBuffer)
		}
		if cfg.subscriptionWorkers != 3 {
			t.Fatalf("subscription workers = %d, want 3", cfg.subscriptionWorkers)
		}
		if cfg.handlerTimeout != 9*time.Second {
			t.Fatalf("handler timeout = %s, want 9s", cfg.handlerTimeout)
		}
		if cfg.taskTimeout != 45*time.Second {
			t.Fatalf("task timeout = %s, want 45s", cfg.taskTimeout)
		}
		if cfg.checkpointPath != "state/garden.json" {
			t.Fatalf("checkpoint path = %q, want state/garden.json", cfg.checkpointPath)
		}
		if cfg.saveOnShutdown {
			t.Fatal("save on shutdown = true, want false")
		}
		if cfg.workflowsDir != "config/flows" {
			t.Fatalf("workflows dir = %q, want config/flows", cfg.workflowsDir)
		}
		if len(cfg.startupWorkflows) != 1 || cfg.startupWorkflows[0] != "nightly-distillation" {
			t.Fatalf("startup workflows = %v, want trimmed [nightly-distillation]", cfg.startupWorkflows)
		}
		if len(cfg.sources) != 1 {
			t.Fatalf("sources = %d, want 1", len(cfg.sources))
		}
		if cfg.sources[0].Name != "backlog" || cfg.sources[0].Type != "replay" {
			t.Fatalf("source = %+v, want backlog replay", cfg.sources[0])
		}
		if !cfg.sources[0].Enabled {
			t.Fatal("source enabled = false, want default true")
		}
		if cfg.llmConfigPath != "config/llm.json" {
			t.Fatalf("llm config path = %q, want config/llm.json", cfg.llmConfigPath)
		}
	})

	t.Run("loads fallback path bin/config/gardend.json when no explicit path is set", func(t *testing.T) {
		workDir := t.TempDir()
		configPath := filepath.Join(workDir, "bin", "config", "gardend.json")
		writeConfigFile(t, configPath, `{
			"workflows":{"startup":["morning-recall"]}
		}`)

		currentDir, err := os.Getwd()
		if err != nil {
			t.Fatalf("get working directory: %v", err)
		}
		if err := os.Chdir(workDir); err != nil {
			t.Fatalf("chdir to temp work dir: %v", err)
		}
		t.Cleanup(func() {
			if err := os.Chdir(currentDir); err != nil {
				t.Fatalf("restore working directory: %v", err)
			}
		})
		t.Setenv(envConfigFile, "")

		cfg, err := loadConfig(newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}

		if len(cfg.startupWorkflows) != 1 || cfg.startupWorkflows[0] != "morning-recall" {
			t.Fatalf("startup workflows = %v, want [morning-recall]", cfg.startupWorkflows)
		}
		if cfg.workflowsDir != defaultWorkflowsDir {
			t.Fatalf("workflows dir = %q, want default %q", cfg.workflowsDir, defaultWorkflowsDir)
		}
		if !cfg.saveOnShutdown {
			t.Fatal("save on shutdown = false, want default true")
		}
	})

	t.Run("invalid config values fail", func(t *testing.T) {
		tests := []struct {
			name       string
			fileJSON   string
			wantErrSub string
		}{
			{
				name:       "invalid log level",
				fileJSON:   `{"log_level":"trace"}`,
				wantErrSub: "parse log_level",
			},
			{
				name:       "invalid kernel timeout",
				fileJSON:   `{"kernel":{"membrane_hook_timeout":"bad"}}`,
				wantErrSub: "parse kernel.membrane_hook_timeout",
			},
			{
				name:       "non-positive kernel timeout",
				fileJSON:   `{"kernel":{"task_timeout":"-1s"}}`,
				wantErrSub: "parse kernel.task_timeout",
			},
			{
				name:       "non-positive kernel buffer",
				fileJSON:   `{"kernel":{"subscription_buffer":0}}`,
				wantErrSub: "parse kernel.subscription_buffer",
			},
			{
				name:       "empty startup workflow name",
				fileJSON:   `{"workflows":{"startup":["  "]}}`,
				wantErrSub: "parse workflows.startup[0]",
			},
			{
				name:       "missing source config",
				fileJSON:   `{"sources":[{"name":"backlog","type":"replay"}]}`,
				wantErrSub: "parse sources[0].config: required",
			},
			{
				name: "duplicate source name",
				fileJSON: `{"sources":[
					{"name":"backlog","type":"replay","config":{"path":"a.jsonl"}},
					{"name":"backlog","type":"replay","config":{"path":"b.jsonl"}}
				]}`,
				wantErrSub: "duplicate name",
			},
			{
				name:       "unsupported source type",
				fileJSON:   `{"sources":[{"name":"mail","type":"carrier-pigeon","config":{"path":"x"}}]}`,
				wantErrSub: "unsupported type",
			},
			{
				name:       "neither sources nor startup workflows",
				fileJSON:   `{}`,
				wantErrSub: "at least one enabled source or startup workflow",
			},
		}

		for _, testCase := range tests {
			testCase := testCase
			t.Run(testCase.name, func(t *testing.T) {
				configPath := filepath.Join(t.TempDir(), "gardend.json")
				writeConfigFile(t, configPath, testCase.fileJSON)
				t.Setenv(envConfigFile, configPath)

				_, err := loadConfig(newTestRegistry(t))
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), testCase.wantErrSub) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSub)
				}
			})
		}
	})

	t.Run("missing explicit config file fails", func(t *testing.T) {
		t.Setenv(envConfigFile, filepath.Join(t.TempDir(), "missing.json"))
		if _, err := loadConfig(newTestRegistry(t)); err == nil {
			t.Fatal("expected error for missing config file")
		}
	})
}

func TestPrepareCheckpointPath(t *testing.T) {
	t.Run("creates parent directories and absolute path", func(t *testing.T) {
		checkpointPath := filepath.Join(t.TempDir(), "nested", "state", "garden.json")

		prepared, err := prepareCheckpointPath(checkpointPath)
		if err != nil {
			t.Fatalf("prepare checkpoint path failed: %v", err)
		}

		if !filepath.IsAbs(prepared) {
			t.Fatalf("checkpoint path = %q, want absolute path", prepared)
		}
		parent := filepath.Dir(prepared)
		info, err := os.Stat(parent)
		if err != nil {
			t.Fatalf("stat checkpoint parent dir: %v", err)
		}
		if !info.IsDir() {
			t.Fatalf("checkpoint parent %q is not a directory", parent)
		}
	})

	t.Run("empty path fails", func(t *testing.T) {
		if _, err := prepareCheckpointPath("   "); err == nil {
			t.Fatal("expected error for empty checkpoint path")
		}
	})
}
