package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	switch c.State.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("state.backend must be %q or %q, got %q", BackendFile, BackendSQLite, c.State.Backend)
	}
	if err := ensurePositiveMap(map[string]int{
		"llm.timeout_seconds":           c.LLM.TimeoutSeconds,
		"batch.max_chunk_size":          c.Batch.MaxChunkSize,
		"batch.max_concurrent_requests": c.Batch.MaxConcurrentRequests,
		"handlers.request_timeout":      c.Handlers.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

// ValidateLLM ensures provider credentials are present. Commands that only
// inspect local state do not need them.
func (c *Config) ValidateLLM() error {
	if c.LLM.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("llm.api_key is required. Set OPENAI_API_KEY env var or edit %s (create with 'texttools config init')", defaultPath)
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model must be set")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
