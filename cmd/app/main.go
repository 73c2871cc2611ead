package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paper_trade/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	configPath := os.Getenv("PAPERTRADE_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Market feed lifecycle. The feed only dials once the first symbol is
	// subscribed, so starting it here just binds the context.
	bootstrap.Feed.Start(ctx)
	defer bootstrap.Feed.Shutdown()

	// 5. HTTP API
	srv := &http.Server{
		Addr:    bootstrap.Config.Server.Addr,
		Handler: bootstrap.Server,
	}

	go func() {
		slog.InfoContext(ctx, "✅ API server started", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server failed", slog.Any("error", err))
			stop()
		}
	}()

	slog.InfoContext(ctx, "✨ Paper trading system fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", slog.Any("error", err))
	}
}
