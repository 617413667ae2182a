package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"texttools/internal/jobstate"
	"texttools/internal/logging"
	"texttools/internal/metrics"
	"texttools/internal/provider"
	"texttools/internal/schema"
)

// DefaultMaxChunkSize is the largest number of inputs sent as one provider batch.
const DefaultMaxChunkSize = 50000

// Submitter splits a job's inputs into chunks and submits each one.
type Submitter struct {
	store        jobstate.Store
	provider     provider.Provider
	maxChunkSize int
	logger       *slog.Logger
}

// NewSubmitter constructs a Submitter. A non-positive maxChunkSize selects
// DefaultMaxChunkSize.
func NewSubmitter(store jobstate.Store, prov provider.Provider, maxChunkSize int, logger *slog.Logger) *Submitter {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &Submitter{
		store:        store,
		provider:     prov,
		maxChunkSize: maxChunkSize,
		logger:       logging.NewComponentLogger(logger, "batch.submitter"),
	}
}

type chunkRange struct {
	offset int
	size   int
}

func chunkRanges(total, max int) []chunkRange {
	ranges := make([]chunkRange, 0, (total+max-1)/max)
	for offset := 0; offset < total; offset += max {
		size := max
		if remaining := total - offset; remaining < size {
			size = remaining
		}
		ranges = append(ranges, chunkRange{offset: offset, size: size})
	}
	return ranges
}

// Item is one input text with an optional caller-supplied key.
type Item struct {
	ID   string
	Text string
}

// Items wraps bare texts as unkeyed items.
func Items(texts []string) []Item {
	items := make([]Item, len(texts))
	for i, text := range texts {
		items[i] = Item{Text: text}
	}
	return items
}

// splitItems returns the texts and, when any item carries a key, the keys.
// Keys must be given for every item or for none, and must be unique.
func splitItems(items []Item) ([]string, []string, error) {
	texts := make([]string, len(items))
	var ids []string
	seen := make(map[string]struct{})
	for i, item := range items {
		texts[i] = item.Text
		id := strings.TrimSpace(item.ID)
		if id == "" {
			if ids != nil {
				return nil, nil, fmt.Errorf("%w: item %d has no id", ErrInvalidItemID, i)
			}
			continue
		}
		if ids == nil {
			if i > 0 {
				return nil, nil, fmt.Errorf("%w: item 0 has no id", ErrInvalidItemID)
			}
			ids = make([]string, 0, len(items))
		}
		if _, dup := seen[id]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidItemID, id)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return texts, ids, nil
}

// Submit sends every chunk of items to the provider and records the job.
// When a chunk fails the job is recorded as FAILED with the sub-batches
// that were accepted, and the provider error is returned.
func (s *Submitter) Submit(ctx context.Context, items []Item, name string, desc schema.Descriptor) (*jobstate.Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("job name required")
	}
	if len(items) == 0 {
		metrics.JobsStarted.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyInput
	}
	inputs, ids, err := splitItems(items)
	if err != nil {
		metrics.JobsStarted.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if err := desc.Validate(); err != nil {
		metrics.JobsStarted.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if _, err := s.store.Load(ctx, name); err == nil {
		metrics.JobsStarted.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("start %s: %w", name, ErrDuplicateJob)
	} else if !errors.Is(err, jobstate.ErrNotFound) {
		return nil, err
	}

	logger := logging.WithContext(logging.WithJobName(ctx, name), s.logger)
	rec := &jobstate.Record{
		Name:       name,
		Status:     jobstate.StatusPending,
		InputCount: len(inputs),
		ItemIDs:    ids,
		Schema:     desc,
	}

	var submitErr error
	for _, chunk := range chunkRanges(len(inputs), s.maxChunkSize) {
		started := time.Now()
		batchID, err := s.provider.Submit(ctx, provider.Chunk{
			JobName: name,
			Offset:  chunk.offset,
			Inputs:  inputs[chunk.offset : chunk.offset+chunk.size],
			Schema:  desc,
		})
		metrics.ProviderCallDuration.WithLabelValues("submit").Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.ProviderErrors.WithLabelValues("submit").Inc()
			submitErr = fmt.Errorf("submit chunk at offset %d: %w", chunk.offset, err)
			break
		}
		if strings.TrimSpace(batchID) == "" {
			metrics.ProviderErrors.WithLabelValues("submit").Inc()
			submitErr = fmt.Errorf("submit chunk at offset %d: empty batch id", chunk.offset)
			break
		}
		metrics.SubBatchesSubmitted.Inc()
		rec.SubBatches = append(rec.SubBatches, jobstate.SubBatch{BatchID: batchID, Offset: chunk.offset, Size: chunk.size})
		logger.Debug("chunk submitted",
			logging.BatchID(batchID),
			logging.Int("offset", chunk.offset),
			logging.Int("size", chunk.size),
		)
	}

	if submitErr != nil {
		rec.Status = jobstate.StatusFailed
		rec.Error = submitErr.Error()
		metrics.JobsStarted.WithLabelValues("failed").Inc()
		logging.ErrorWithContext(logger, "job submission failed", "batch_submit_failed",
			logging.Error(submitErr),
			logging.Int("submitted_chunks", len(rec.SubBatches)),
		)
		if err := s.store.Create(ctx, rec); err != nil {
			return nil, errors.Join(submitErr, fmt.Errorf("record failed job: %w", err))
		}
		return rec, submitErr
	}

	rec.Status = jobstate.StatusSubmitted
	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, jobstate.ErrDuplicateJob) {
			logging.WarnWithContext(logger, "job created concurrently; submitted batches are orphaned", "batch_submit_race",
				logging.Any("batch_ids", batchIDs(rec.SubBatches)),
			)
		}
		return nil, err
	}
	metrics.JobsStarted.WithLabelValues("submitted").Inc()
	logger.Info("job submitted",
		logging.Int("inputs", len(inputs)),
		logging.Int("sub_batches", len(rec.SubBatches)),
	)
	return rec, nil
}

func batchIDs(subs []jobstate.SubBatch) []string {
	ids := make([]string, len(subs))
	for i, sb := range subs {
		ids[i] = sb.BatchID
	}
	return ids
}
