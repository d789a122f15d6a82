// Package main runs the development backend that speaks the Persistence API
// wire format. Every Go executable defines package main and a main()
// function, while libraries use other package names.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/PaperDrop/internal/config"
	"github.com/dharsanguruparan/PaperDrop/internal/server"
	"github.com/dharsanguruparan/PaperDrop/internal/signing"
	"github.com/dharsanguruparan/PaperDrop/internal/storage"
)

func main() {
	// Step 1: load configuration (defaults, optional YAML file, then
	// PAPERDROP_* environment overrides).
	cfg, err := config.Load(os.Getenv("PAPERDROP_CONFIG"))
	if err != nil {
		config.DefaultConfig().NewLogger(os.Stderr).Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr)

	// Step 2: construct dependencies via constructors returning pointers.
	secret := cfg.Server.SigningSecret
	if secret == "" {
		logger.Warn("No signing secret configured, using an insecure development secret")
		secret = "paperdrop-dev-secret"
	}
	// Step 3: create a context that cancels when SIGINT/SIGTERM arrive.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Store = storage.NewMemoryStore(cfg.Server.Users)
	if cfg.Server.DatabaseURL != "" {
		pg, err := storage.OpenPostgres(ctx, cfg.Server.DatabaseURL, cfg.Server.Users)
		if err != nil {
			logger.Error("Failed to open database", "error", err)
			os.Exit(1)
		}
		store = pg
		logger.Info("Using Postgres store")
	}
	defer store.Close()

	signer := signing.NewSigner([]byte(secret))
	srv := server.New(cfg.Server, store, signer, logger)

	// Step 4: block until the HTTP server exits.
	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
