package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/josh-kwaku/program-ledger/internal/app"
	"github.com/josh-kwaku/program-ledger/internal/config"
	"github.com/josh-kwaku/program-ledger/internal/handler"
	"github.com/josh-kwaku/program-ledger/internal/logging"
	"github.com/josh-kwaku/program-ledger/internal/middleware"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("ledger-api", cfg.LogLevel, cfg.AppEnv)

	if cfg.WebhookSecret == "" {
		slog.Error("WEBHOOK_SECRET is required to serve provider webhooks")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("failed to close resources", "error", err)
		}
	}()

	platform, err := a.Ledgers.EnsurePlatformLedger(ctx, cfg.DefaultCurrency)
	if err != nil {
		slog.Error("failed to ensure platform ledger", "error", err)
		os.Exit(1)
	}
	slog.Info("platform ledger ready", "ledger_id", platform.ID, "currency", cfg.DefaultCurrency)

	health := handler.NewHealthHandler(a.DB, a.Redis)
	webhooks := handler.NewWebhookHandler(a.Webhooks, a.Delivery, cfg.WebhookSecret)
	transfers := handler.NewTransferHandler(a.Transfers)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", health.Liveness)
	mux.HandleFunc("GET /health/ready", health.Readiness)
	mux.HandleFunc("POST /api/v1/webhooks/provider", webhooks.ReceiveProviderWebhook)
	mux.HandleFunc("GET /api/v1/transfers/{kind}/{id}", transfers.Get)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           middleware.Chain(mux, middleware.Tracing, middleware.Logging, middleware.Recovery),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	processor := a.NewWebhookProcessor()
	wg.Add(1)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	wg.Wait()
	slog.Info("server stopped")
}
