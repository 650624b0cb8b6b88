package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wordcheck/points-engine/api"
	"github.com/wordcheck/points-engine/config"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API until SIGINT or SIGTERM.

On shutdown the server stops accepting connections, waits for in-flight
requests (http.shutdown_timeout), drains queued counter updates and then
closes storage.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	start := time.Now()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, a.log)
	limiter.Start()
	defer limiter.Stop()

	config.Watch(a.viper, a.log, func(next *config.Config) {
		models, err := next.Models()
		if err != nil {
			a.log.Warn("model table rejected", slog.Any("error", err))
			return
		}
		a.usage.SetModels(models)
		a.log.Info("model table updated", slog.Int("models", len(models)))
	})

	handler := api.NewHandler(a.ledger, a.tracker, a.usage, a.carousels, a.log)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AdminToken:     cfg.Admin.Token,
		Limiter:        limiter,
		Metrics:        a.metrics,
		Ping:           a.store.Ping,
	})
	if cfg.Admin.Token == "" {
		a.log.Warn("admin token not set; /api/admin is disabled")
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting",
			slog.String("addr", cfg.HTTP.Addr),
			slog.String("env", cfg.AppEnv),
			slog.String("database", cfg.Database.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server forced to shutdown", slog.Any("error", err))
	}
	if err := a.dispatcher.Close(shutdownCtx); err != nil {
		a.log.Warn("background tasks not drained", slog.Any("error", err))
	}

	a.log.Info("server stopped", slog.Duration("uptime", time.Since(start)))
	return nil
}
