package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"texttools/internal/batch"
	"texttools/internal/config"
	"texttools/internal/handlers"
	"texttools/internal/jobstate"
	"texttools/internal/logging"
	"texttools/internal/provider"
	"texttools/internal/provider/openai"
	"texttools/internal/services/llm"
)

type providerFactory func(cfg *config.Config, logger *slog.Logger) (provider.Provider, error)

type contextOption func(*commandContext)

// withProviderFactory replaces the OpenAI batch provider.
func withProviderFactory(factory providerFactory) contextOption {
	return func(c *commandContext) {
		c.newProvider = factory
	}
}

// withLogger replaces the configured logger.
func withLogger(logger *slog.Logger) contextOption {
	return func(c *commandContext) {
		c.logger = logger
	}
}

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce  sync.Once
	logger      *slog.Logger
	newProvider providerFactory
}

func newCommandContext(configFlag *string, opts ...contextOption) *commandContext {
	c := &commandContext{
		configFlag:  configFlag,
		newProvider: openAIProvider,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) loggerFor(cfg *config.Config) *slog.Logger {
	c.loggerOnce.Do(func() {
		if c.logger != nil {
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

// commandCtx tags the command's context with a fresh correlation id.
func commandCtx(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.WithCorrelationID(ctx, uuid.NewString())
}

type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   jobstate.Store
	manager *batch.Manager
}

func (s *session) Close() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

// openSession opens the job store and, when needProvider is set, the batch
// provider and result handlers.
func (c *commandContext) openSession(needProvider bool) (*session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := c.loggerFor(cfg)
	store, err := jobstate.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	s := &session{cfg: cfg, logger: logger, store: store}

	var prov provider.Provider
	if needProvider {
		prov, err = c.newProvider(cfg, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	s.manager = batch.NewManager(store, prov, batch.Options{
		MaxChunkSize: cfg.Batch.MaxChunkSize,
		Concurrency:  cfg.Batch.MaxConcurrentRequests,
		Handlers:     handlers.FromConfig(cfg, logger),
		Logger:       logger,
	})
	return s, nil
}

func newLLMClient(cfg *config.Config) (*llm.Client, error) {
	if err := cfg.ValidateLLM(); err != nil {
		return nil, err
	}
	return llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		APIBaseURL:     cfg.Batch.BaseURL,
		Model:          cfg.LLM.Model,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		Temperature:    cfg.LLM.Temperature,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	}), nil
}

func openAIProvider(cfg *config.Config, logger *slog.Logger) (provider.Provider, error) {
	client, err := newLLMClient(cfg)
	if err != nil {
		return nil, err
	}
	return openai.New(client, openai.Options{
		SystemPrompt:     cfg.Batch.Prompt,
		CompletionWindow: cfg.Batch.CompletionWindow,
		Logger:           logger,
	}), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
