// Package categorizer classifies text synchronously, one chat completion per
// input, validating each reply with the same schema descriptor used by
// batch jobs.
package categorizer

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"texttools/internal/batch"
	"texttools/internal/logging"
	"texttools/internal/schema"
)

// Completer issues one chat completion constrained by a response format.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, responseFormat map[string]any) (string, error)
}

// Categorizer validates model replies against a descriptor.
type Categorizer struct {
	client      Completer
	desc        schema.Descriptor
	system      string
	format      map[string]any
	concurrency int
	logger      *slog.Logger
}

// New constructs a Categorizer. prompt is prepended to the descriptor's
// answer-format instructions.
func New(client Completer, desc schema.Descriptor, prompt string, concurrency int, logger *slog.Logger) (*Categorizer, error) {
	if client == nil {
		return nil, errors.New("categorizer: client required")
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = batch.DefaultConcurrency
	}
	return &Categorizer{
		client:      client,
		desc:        desc,
		system:      desc.Instructions(prompt),
		format:      desc.ResponseFormat(),
		concurrency: concurrency,
		logger:      logging.NewComponentLogger(logger, "categorizer"),
	}, nil
}

// Categorize classifies one text. Transport failures are returned as
// errors; a reply that fails validation is a failed Outcome.
func (c *Categorizer) Categorize(ctx context.Context, text string) (schema.Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return schema.Outcome{}, batch.ErrEmptyInput
	}
	raw, err := c.client.Complete(ctx, c.system, text, c.format)
	if err != nil {
		return schema.Outcome{}, err
	}
	return c.desc.Parse(raw), nil
}

// CategorizeAll classifies every text concurrently and returns one entry
// per input. Per-item transport failures become failed entries.
func (c *Categorizer) CategorizeAll(ctx context.Context, jobName string, texts []string) (batch.ResultSet, error) {
	if len(texts) == 0 {
		return batch.ResultSet{}, batch.ErrEmptyInput
	}
	logger := logging.WithContext(logging.WithJobName(ctx, jobName), c.logger)
	entries := make([]batch.Entry, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			outcome, err := c.Categorize(gctx, text)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn("categorize item failed", logging.Int("index", i), logging.Error(err))
				outcome = schema.Failure("", err)
			}
			entries[i] = batch.Entry{Index: i, Outcome: outcome}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return batch.ResultSet{}, err
	}
	return batch.ResultSet{JobName: jobName, Entries: entries}, nil
}
