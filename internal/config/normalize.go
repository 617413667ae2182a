package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeState()
	c.normalizeLLM()
	c.normalizeBatch()
	if err := c.normalizeHandlers(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeState() {
	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))
	if c.State.Backend == "" {
		c.State.Backend = BackendFile
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("TEXTTOOLS_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeBatch() {
	c.Batch.BaseURL = strings.TrimRight(strings.TrimSpace(c.Batch.BaseURL), "/")
	if c.Batch.BaseURL == "" {
		c.Batch.BaseURL = defaultBatchBaseURL
	}
	c.Batch.CompletionWindow = strings.TrimSpace(c.Batch.CompletionWindow)
	if c.Batch.CompletionWindow == "" {
		c.Batch.CompletionWindow = defaultCompletionWindow
	}
	if c.Batch.MaxChunkSize == 0 {
		c.Batch.MaxChunkSize = defaultMaxChunkSize
	}
	if c.Batch.MaxConcurrentRequests == 0 {
		c.Batch.MaxConcurrentRequests = defaultMaxConcurrentRequests
	}
	c.Batch.Prompt = strings.TrimSpace(c.Batch.Prompt)
}

func (c *Config) normalizeHandlers() error {
	var err error
	if c.Handlers.OutputFile, err = expandPath(strings.TrimSpace(c.Handlers.OutputFile)); err != nil {
		return fmt.Errorf("handlers.output_file: %w", err)
	}
	c.Handlers.NtfyTopic = strings.TrimSpace(c.Handlers.NtfyTopic)
	if c.Handlers.RequestTimeout == 0 {
		c.Handlers.RequestTimeout = defaultHandlerTimeout
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
