package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"texttools/internal/jobstate"
	"texttools/internal/logging"
	"texttools/internal/metrics"
	"texttools/internal/provider"
)

// DefaultConcurrency bounds concurrent provider calls within one job.
const DefaultConcurrency = 4

// Poller derives a job's status from its sub-batches.
type Poller struct {
	store       jobstate.Store
	provider    provider.Provider
	concurrency int
	logger      *slog.Logger
}

// NewPoller constructs a Poller.
func NewPoller(store jobstate.Store, prov provider.Provider, concurrency int, logger *slog.Logger) *Poller {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Poller{
		store:       store,
		provider:    prov,
		concurrency: concurrency,
		logger:      logging.NewComponentLogger(logger, "batch.poller"),
	}
}

// Poll performs one non-blocking status check. Terminal jobs are returned
// without contacting the provider. The aggregated status is persisted
// before returning and never moves a job backward.
func (p *Poller) Poll(ctx context.Context, name string) (jobstate.Status, error) {
	rec, err := p.store.Load(ctx, name)
	if err != nil {
		return "", err
	}
	if rec.Status.IsTerminal() {
		metrics.StatusPolls.WithLabelValues(string(rec.Status)).Inc()
		return rec.Status, nil
	}

	statuses, err := p.fetchStatuses(ctx, rec)
	if err != nil {
		return "", err
	}
	next, reason := aggregate(rec.SubBatches, statuses)
	metrics.StatusPolls.WithLabelValues(string(next)).Inc()

	logger := logging.WithContext(logging.WithJobName(ctx, name), p.logger)
	if next == rec.Status {
		return rec.Status, nil
	}
	if !jobstate.CanTransition(rec.Status, next) {
		logger.Debug("ignoring stale aggregate status",
			logging.String("stored", string(rec.Status)),
			logging.String("aggregate", string(next)),
		)
		return rec.Status, nil
	}

	previous := rec.Status
	rec.Status = next
	if next == jobstate.StatusFailed || next == jobstate.StatusExpired {
		rec.Error = reason
	}
	if err := p.store.Save(ctx, rec); err != nil {
		if errors.Is(err, jobstate.ErrInvalidTransition) {
			// Another process advanced the job first.
			latest, loadErr := p.store.Load(ctx, name)
			if loadErr != nil {
				return "", loadErr
			}
			return latest.Status, nil
		}
		return "", err
	}

	attrs := []logging.Attr{
		logging.String("from", string(previous)),
		logging.String("status", string(next)),
	}
	if reason != "" {
		attrs = append(attrs, logging.String("reason", reason))
	}
	if next == jobstate.StatusFailed || next == jobstate.StatusExpired {
		logging.WarnWithContext(logger, "job ended without results", "batch_job_"+string(next), attrs...)
	} else {
		logger.Info("status updated", logging.Args(attrs...)...)
	}
	return next, nil
}

func (p *Poller) fetchStatuses(ctx context.Context, rec *jobstate.Record) ([]provider.BatchStatus, error) {
	statuses := make([]provider.BatchStatus, len(rec.SubBatches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, sb := range rec.SubBatches {
		g.Go(func() error {
			started := time.Now()
			status, err := p.provider.Status(gctx, sb.BatchID)
			metrics.ProviderCallDuration.WithLabelValues("status").Observe(time.Since(started).Seconds())
			if err != nil {
				metrics.ProviderErrors.WithLabelValues("status").Inc()
				return fmt.Errorf("poll %s sub-batch at offset %d: %w", rec.Name, sb.Offset, err)
			}
			statuses[i] = status
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}

// aggregate folds sub-batch states into a job status. Any failure wins,
// then any expiry; the job completes only when every sub-batch has.
func aggregate(subs []jobstate.SubBatch, statuses []provider.BatchStatus) (jobstate.Status, string) {
	var (
		failed, expired    []string
		completed, running int
	)
	for i, status := range statuses {
		switch status.State {
		case provider.StateFailed:
			failed = append(failed, describeFailure(subs[i], status.Reason))
		case provider.StateExpired:
			expired = append(expired, describeFailure(subs[i], status.Reason))
		case provider.StateCompleted:
			completed++
		case provider.StateInProgress:
			running++
		}
	}
	switch {
	case len(failed) > 0:
		return jobstate.StatusFailed, strings.Join(failed, "; ")
	case len(expired) > 0:
		return jobstate.StatusExpired, strings.Join(expired, "; ")
	case len(statuses) > 0 && completed == len(statuses):
		return jobstate.StatusCompleted, ""
	case running > 0 || completed > 0:
		return jobstate.StatusRunning, ""
	default:
		return jobstate.StatusSubmitted, ""
	}
}

func describeFailure(sb jobstate.SubBatch, reason string) string {
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Sprintf("sub-batch %s (items %d-%d): %s", sb.BatchID, sb.Offset, sb.Offset+sb.Size-1, reason)
}
