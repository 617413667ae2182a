package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"texttools/internal/jobstate"
	"texttools/internal/logging"
	"texttools/internal/metrics"
)

func newWaitCommand(ctx *commandContext) *cobra.Command {
	var (
		interval    time.Duration
		timeout     time.Duration
		withMetrics bool
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "wait <job>",
		Short: "Poll a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}
			s, err := ctx.openSession(true)
			if err != nil {
				return err
			}
			defer s.Close()

			runCtx := commandCtx(cmd)
			if timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(runCtx, timeout)
				defer cancel()
			}

			addr := strings.TrimSpace(metricsAddr)
			if addr == "" && withMetrics {
				addr = s.cfg.Metrics.Bind
			}
			if addr != "" {
				stop, err := serveMetrics(addr, s.logger)
				if err != nil {
					return err
				}
				defer stop()
			}

			name := args[0]
			out := cmd.OutOrStdout()
			var last jobstate.Status
			for {
				status, err := s.manager.CheckStatus(runCtx, name)
				if err != nil {
					if errors.Is(err, context.DeadlineExceeded) {
						return fmt.Errorf("timed out waiting for job %s (last status %s)", name, last)
					}
					return err
				}
				if status != last {
					fmt.Fprintf(out, "%s: %s\n", name, statusLabel(status))
					last = status
				}
				if status.IsTerminal() {
					if status != jobstate.StatusCompleted {
						rec, err := s.manager.Job(cmd.Context(), name)
						if err == nil && rec.Error != "" {
							fmt.Fprintf(out, "  reason: %s\n", rec.Error)
						}
					}
					return nil
				}
				select {
				case <-time.After(interval):
				case <-runCtx.Done():
					if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
						return fmt.Errorf("timed out waiting for job %s (last status %s)", name, last)
					}
					return runCtx.Err()
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "Delay between status polls")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits indefinitely)")
	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "Serve Prometheus metrics on the configured bind address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func serveMetrics(addr string, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", logging.Error(err))
		}
	}()
	logger.Info("serving metrics", logging.String("addr", listener.Addr().String()))
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}, nil
}
