package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/josh-kwaku/program-ledger/internal/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := env.ParseAs[providerConfig]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("mock-provider", cfg.LogLevel, cfg.AppEnv)

	p := newProvider(cfg, &http.Client{Timeout: cfg.CallbackTimeout})

	slog.Info("mock provider started", "addr", cfg.Addr, "webhook_delay", cfg.WebhookDelay)
	if err := http.ListenAndServe(cfg.Addr, p.routes()); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
