package batch

import (
	"context"
	"fmt"
	"log/slog"

	"texttools/internal/logging"
	"texttools/internal/metrics"
)

// Handler receives the full result set of a fetched job.
type Handler interface {
	Handle(ctx context.Context, jobName string, results ResultSet) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, jobName string, results ResultSet) error

func (f HandlerFunc) Handle(ctx context.Context, jobName string, results ResultSet) error {
	return f(ctx, jobName, results)
}

// HandlerFailure records one handler that returned an error or panicked.
type HandlerFailure struct {
	Handler  string
	Position int
	Err      error
}

func (f HandlerFailure) Error() string {
	return fmt.Sprintf("handler %s (#%d): %v", f.Handler, f.Position, f.Err)
}

// Dispatcher invokes handlers in registration order, isolating failures.
type Dispatcher struct {
	logger *slog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{logger: logging.NewComponentLogger(logger, "batch.dispatcher")}
}

// Dispatch calls every handler with the full set. A failing handler never
// prevents later handlers from running.
func (d *Dispatcher) Dispatch(ctx context.Context, jobName string, results ResultSet, handlers []Handler) []HandlerFailure {
	logger := logging.WithContext(logging.WithJobName(ctx, jobName), d.logger)
	var failures []HandlerFailure
	for i, h := range handlers {
		if h == nil {
			continue
		}
		name := handlerName(h)
		if err := invoke(ctx, h, jobName, results); err != nil {
			metrics.HandlerFailures.WithLabelValues(name).Inc()
			logging.ErrorWithContext(logger, "result handler failed", "result_handler_failed",
				logging.String("handler", name),
				logging.Int("position", i),
				logging.Error(err),
				logging.Hint("job status is unchanged; fetch again to retry handlers"),
			)
			failures = append(failures, HandlerFailure{Handler: name, Position: i, Err: err})
			continue
		}
		logger.Debug("result handler finished", logging.String("handler", name))
	}
	return failures
}

func invoke(ctx context.Context, h Handler, jobName string, results ResultSet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, jobName, results)
}

func handlerName(h Handler) string {
	if named, ok := h.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", h)
}
