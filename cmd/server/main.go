package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"badal/internal/app"
	"badal/internal/platform/config"
	"badal/internal/platform/logger"
	"badal/internal/policy"
)

// main loads configuration and policy, builds the app and runs it until
// SIGINT or SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	if cfg.UsingDefaultJWTKey() {
		log.Warn("JWT_SIGNING_KEY not set, using the development key")
	}

	pol := policy.Default()
	if cfg.PolicyPath != "" {
		if pol, err = policy.Load(cfg.PolicyPath); err != nil {
			log.Error("invalid policy file", "path", cfg.PolicyPath, "error", err)
			os.Exit(1)
		}
	}
	log.Info("policy loaded", "version", pol.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, pol, log, app.WithMetrics())
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("shutdown cleanup failed", "error", err)
		}
	}()

	if err := a.Run(ctx); err != nil {
		log.Error("server stopped", "error", err)
		return
	}
	log.Info("server stopped")
}
