package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"texttools/internal/batch"
	"texttools/internal/config"
	"texttools/internal/logging"
)

// NoOp accepts and discards results.
type NoOp struct{}

func (NoOp) Name() string { return "noop" }

func (NoOp) Handle(context.Context, string, batch.ResultSet) error { return nil }

// FromConfig builds the handler list from configuration, in a fixed order:
// CSV file, log, ntfy.
func FromConfig(cfg *config.Config, logger *slog.Logger) []batch.Handler {
	var list []batch.Handler
	if cfg.Handlers.OutputFile != "" {
		list = append(list, NewCSVFile(cfg.Handlers.OutputFile))
	}
	if cfg.Handlers.LogResults {
		list = append(list, NewLog(logger))
	}
	if cfg.Handlers.NtfyTopic != "" {
		timeout := time.Duration(cfg.Handlers.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		list = append(list, NewNtfy(cfg.Handlers.NtfyTopic, &http.Client{Timeout: timeout}))
	}
	if len(list) == 0 {
		list = append(list, NoOp{})
	}
	return list
}

// Log writes one log line per result entry.
type Log struct {
	logger *slog.Logger
}

// NewLog constructs a Log handler.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logging.NewComponentLogger(logger, "handlers.log")}
}

func (*Log) Name() string { return "log" }

func (h *Log) Handle(ctx context.Context, jobName string, results batch.ResultSet) error {
	logger := logging.WithContext(logging.WithJobName(ctx, jobName), h.logger)
	for _, entry := range results.Entries {
		if entry.Parsed {
			logger.Info("result",
				logging.Int("index", entry.Index),
				logging.String("id", entry.ID),
				logging.Any("value", entry.Value),
			)
			continue
		}
		logger.Warn("result failed",
			logging.Int("index", entry.Index),
			logging.String("id", entry.ID),
			logging.String("error", entry.Error),
			logging.String("raw", entry.Raw),
		)
	}
	return nil
}
