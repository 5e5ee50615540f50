package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"depthscope/internal/app"
	"depthscope/internal/event"
	"depthscope/internal/service"

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

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pre-warm the event pools before the streams start firing
	event.Warmup()

	// 4. Pane Service (session registry + transport wiring)
	paneService := service.NewPaneService(bootstrap.StreamFactory(), bootstrap.Storage)
	defer paneService.CloseAll()

	paneConfigs, err := bootstrap.PaneConfigs()
	if err != nil {
		slog.Error("❌ Invalid pane configuration", slog.Any("error", err))
		os.Exit(1)
	}

	for _, cfg := range paneConfigs {
		if err := paneService.Subscribe(ctx, cfg); err != nil {
			slog.Error("Failed to open pane",
				slog.String("pane", cfg.PaneID),
				slog.String("ticker", cfg.Ticker),
				slog.Any("error", err))
			continue
		}
		slog.InfoContext(ctx, "✅ Pane opened",
			slog.String("pane", cfg.PaneID),
			slog.String("exchange", cfg.Exchange),
			slog.String("ticker", cfg.Ticker))
	}

	// 5. Background Asset Sync (ticker metadata + icons)
	go bootstrap.SyncAssets(ctx, paneConfigs)

	slog.InfoContext(ctx, "✨ DepthScope fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
