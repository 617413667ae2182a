package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"texttools/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeyAndExpandsPaths(t *testing.T) {
	t.Setenv("TEXTTOOLS_API_KEY", "")
	os.Unsetenv("TEXTTOOLS_API_KEY")
	t.Setenv("OPENAI_API_KEY", "test-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "texttools", "state")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Fatalf("expected API key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.State.Backend != config.BackendFile {
		t.Fatalf("expected file backend by default, got %q", cfg.State.Backend)
	}
	if cfg.Batch.MaxChunkSize != config.Default().Batch.MaxChunkSize {
		t.Fatalf("unexpected chunk size %d", cfg.Batch.MaxChunkSize)
	}
	if cfg.StatePath() != filepath.Join(wantState, "jobs.json") {
		t.Fatalf("unexpected state path %q", cfg.StatePath())
	}
	if err := cfg.ValidateLLM(); err != nil {
		t.Fatalf("ValidateLLM returned error: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "texttools.toml")

	type payload struct {
		State struct {
			Backend string `toml:"backend"`
		} `toml:"state"`
		LLM struct {
			APIKey string `toml:"api_key"`
			Model  string `toml:"model"`
		} `toml:"llm"`
		Batch struct {
			MaxChunkSize int    `toml:"max_chunk_size"`
			BaseURL      string `toml:"base_url"`
		} `toml:"batch"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.State.Backend = " SQLite "
	custom.LLM.APIKey = "abc123"
	custom.LLM.Model = "custom-model"
	custom.Batch.MaxChunkSize = 2
	custom.Batch.BaseURL = "https://example.com/v1/"
	custom.Logging.Format = "JSON"

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.State.Backend != config.BackendSQLite {
		t.Fatalf("expected sqlite backend, got %q", cfg.State.Backend)
	}
	if !strings.HasSuffix(cfg.StatePath(), "jobs.db") {
		t.Fatalf("unexpected state path %q", cfg.StatePath())
	}
	if cfg.LLM.Model != "custom-model" || cfg.LLM.APIKey != "abc123" {
		t.Fatalf("unexpected llm section %+v", cfg.LLM)
	}
	if cfg.Batch.MaxChunkSize != 2 || cfg.Batch.BaseURL != "https://example.com/v1" {
		t.Fatalf("unexpected batch section %+v", cfg.Batch)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json log format, got %q", cfg.Logging.Format)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"backend", func(c *config.Config) { c.State.Backend = "redis" }, "state.backend"},
		{"chunk size", func(c *config.Config) { c.Batch.MaxChunkSize = -1 }, "batch.max_chunk_size"},
		{"concurrency", func(c *config.Config) { c.Batch.MaxConcurrentRequests = -3 }, "batch.max_concurrent_requests"},
		{"temperature", func(c *config.Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.StateDir = t.TempDir()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateLLMRequiresKey(t *testing.T) {
	cfg := config.Default()
	if err := cfg.ValidateLLM(); err == nil || !strings.Contains(err.Error(), "llm.api_key") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestCreateSampleLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Batch.CompletionWindow != "24h" {
		t.Fatalf("unexpected completion window %q", cfg.Batch.CompletionWindow)
	}
}

func TestEncodeMasksAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.APIKey = "sk-secret"
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Fatalf("expected API key to be masked, got %s", data)
	}
	if cfg.LLM.APIKey != "sk-secret" {
		t.Fatal("Encode must not mutate the config")
	}
}
