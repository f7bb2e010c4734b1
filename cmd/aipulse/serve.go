package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdulachik/aipulse/internal/app"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background refresher",
	Long: `Serve the dashboard API and refresh all sources on a fixed interval.
The first refresh runs after REFRESH_STARTUP_DELAY.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.ValidateForServe(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting AIPulse",
		"addr", cfg.HTTPAddr,
		"env", cfg.AppEnv,
		"store", cfg.StoreBackend,
		"refresh_interval", cfg.RefreshInterval,
	)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serveUntilDone(sigCtx, srv, a.Scheduler)
}

type runner interface {
	Run(ctx context.Context) error
}

// serveUntilDone runs the scheduler and the HTTP server until ctx is done or
// either of them fails. It returns only after the scheduler has stopped, so
// callers may release what the scheduler uses.
func serveUntilDone(ctx context.Context, srv *http.Server, sched runner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- sched.Run(ctx)
	}()

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	schedStopped := false
	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-srvErr:
		runErr = err
	case err := <-schedDone:
		schedStopped = true
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("scheduler: %w", err)
		}
	}

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown", "error", err)
	}

	if !schedStopped {
		if err := <-schedDone; err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
			runErr = fmt.Errorf("scheduler: %w", err)
		}
	}

	return runErr
}
