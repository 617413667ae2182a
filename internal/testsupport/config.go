package testsupport

import (
	"path/filepath"
	"testing"

	"texttools/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.LLM.APIKey = "test"
	cfgVal.Metrics.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithBackend selects the job state backend.
func WithBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.State.Backend = backend
	}
}

// WithAPIKey sets the LLM API key on the test config.
func WithAPIKey(key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.APIKey = key
	}
}

// WithLLMServer points both the chat and batch endpoints at a test server.
func WithLLMServer(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.BaseURL = url + "/chat/completions"
		b.cfg.Batch.BaseURL = url
	}
}

// WithMaxChunkSize overrides the batch chunk size.
func WithMaxChunkSize(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Batch.MaxChunkSize = size
	}
}

// WithOutputFile enables the CSV result handler at a path inside the test directory.
func WithOutputFile(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Handlers.OutputFile = filepath.Join(b.baseDir, name)
	}
}
