// Package main runs the background worker that saves questions deferred by
// `paperdrop upload --defer-failed`.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dharsanguruparan/PaperDrop/internal/api"
	"github.com/dharsanguruparan/PaperDrop/internal/config"
	"github.com/dharsanguruparan/PaperDrop/internal/metrics"
	"github.com/dharsanguruparan/PaperDrop/internal/queue"
	"github.com/dharsanguruparan/PaperDrop/internal/session"
	"github.com/dharsanguruparan/PaperDrop/internal/tokenstore"
	"github.com/dharsanguruparan/PaperDrop/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("PAPERDROP_CONFIG"))
	if err != nil {
		config.DefaultConfig().NewLogger(os.Stderr).Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr)

	if err := run(ctx, cfg, logger, prometheus.NewRegistry()); err != nil {
		logger.Error("Worker stopped", "error", err)
		stop()
		os.Exit(1)
	}
}

// run serves retry jobs until ctx is done. Every resource it opens is
// released before it returns; only main exits the process.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) error {
	if cfg.Queue.RedisAddr == "" {
		return errors.New("queue.redis_addr is not configured")
	}

	store, err := tokenstore.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	defer store.Close()

	m := metrics.New(reg)
	if cfg.Queue.MetricsAddr != "" {
		stopMetrics := metrics.Serve(ctx, cfg.Queue.MetricsAddr, reg, logger)
		defer stopMetrics()
	}

	client, err := api.New(cfg.API.BaseURL, api.Options{
		Timeout:           cfg.API.Timeout,
		UploadTimeout:     cfg.API.UploadTimeout,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		Logger:            logger,
		Metrics:           m,
	})
	if err != nil {
		return fmt.Errorf("create API client: %w", err)
	}

	server := asynq.NewServer(queue.RedisOpt(cfg.Queue), asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Logger:      newAsynqLogger(logger),
	})
	processor := worker.NewProcessor(client, tokenstore.NewSlot(store, tokenstore.TokenKey), session.NewJWTValidator(), logger, m)

	// Run waits for OS signals rather than ctx.
	if err := server.Start(processor.Handler()); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	logger.Info("Worker started", "redis", cfg.Queue.RedisAddr, "concurrency", cfg.Queue.Concurrency)
	<-ctx.Done()
	logger.Info("Shutting down worker")
	server.Shutdown()
	return nil
}
