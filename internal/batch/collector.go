package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"texttools/internal/jobstate"
	"texttools/internal/logging"
	"texttools/internal/metrics"
	"texttools/internal/provider"
	"texttools/internal/schema"
)

const missingOutput = "no output returned for item"

// Collector downloads and validates the outputs of a completed job.
type Collector struct {
	store       jobstate.Store
	provider    provider.Provider
	concurrency int
	logger      *slog.Logger
}

// NewCollector constructs a Collector.
func NewCollector(store jobstate.Store, prov provider.Provider, concurrency int, logger *slog.Logger) *Collector {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Collector{
		store:       store,
		provider:    prov,
		concurrency: concurrency,
		logger:      logging.NewComponentLogger(logger, "batch.collector"),
	}
}

// Collect returns one entry per job input. Failed and expired jobs yield
// a *JobFailedError; any other non-completed job yields ErrNotCompleted.
func (c *Collector) Collect(ctx context.Context, name string) (ResultSet, error) {
	rec, err := c.store.Load(ctx, name)
	if err != nil {
		return ResultSet{}, err
	}
	switch rec.Status {
	case jobstate.StatusCompleted:
	case jobstate.StatusFailed, jobstate.StatusExpired:
		return ResultSet{}, &JobFailedError{Name: rec.Name, Status: rec.Status, Reason: rec.Error}
	default:
		return ResultSet{}, fmt.Errorf("fetch %s (%s): %w", rec.Name, rec.Status, ErrNotCompleted)
	}

	outputs, err := c.fetchOutputs(ctx, rec)
	if err != nil {
		return ResultSet{}, err
	}

	logger := logging.WithContext(logging.WithJobName(ctx, name), c.logger)
	set := ResultSet{JobName: rec.Name, Entries: make([]Entry, 0, rec.InputCount)}
	for i, sb := range rec.SubBatches {
		got := outputs[i]
		if len(got) != sb.Size {
			logging.WarnWithContext(logger, "provider returned unexpected item count", "batch_output_mismatch",
				logging.BatchID(sb.BatchID),
				logging.Int("expected", sb.Size),
				logging.Int("received", len(got)),
				logging.Impact("missing items are reported as failures"),
			)
		}
		for j := 0; j < sb.Size; j++ {
			var out *provider.Output
			if j < len(got) {
				out = &got[j]
			}
			index := sb.Offset + j
			set.Entries = append(set.Entries, Entry{Index: index, ID: rec.ItemID(index), Outcome: outcomeFor(rec.Schema, out)})
		}
	}

	parsed := len(set.Parsed())
	metrics.ResultItems.WithLabelValues("parsed").Add(float64(parsed))
	metrics.ResultItems.WithLabelValues("failed").Add(float64(set.Len() - parsed))
	logger.Info("results collected",
		logging.Int("items", set.Len()),
		logging.Int("parsed", parsed),
		logging.Int("failed", set.Len()-parsed),
	)
	return set, nil
}

func outcomeFor(desc schema.Descriptor, out *provider.Output) schema.Outcome {
	switch {
	case out == nil:
		return schema.Outcome{Error: missingOutput}
	case out.Error != "":
		return schema.Outcome{Raw: out.Text, Error: "provider: " + out.Error}
	default:
		return desc.Parse(out.Text)
	}
}

func (c *Collector) fetchOutputs(ctx context.Context, rec *jobstate.Record) ([][]provider.Output, error) {
	outputs := make([][]provider.Output, len(rec.SubBatches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, sb := range rec.SubBatches {
		g.Go(func() error {
			started := time.Now()
			got, err := c.provider.Fetch(gctx, sb.BatchID)
			metrics.ProviderCallDuration.WithLabelValues("fetch").Observe(time.Since(started).Seconds())
			if err != nil {
				metrics.ProviderErrors.WithLabelValues("fetch").Inc()
				return fmt.Errorf("fetch %s sub-batch at offset %d: %w", rec.Name, sb.Offset, err)
			}
			outputs[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}
