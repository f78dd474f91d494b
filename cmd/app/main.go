package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tradedesk/internal/app"
	"tradedesk/internal/infra"
)

func main() {
	configPath := flag.String("config", infra.ResolveConfigPath(), "path to config file")
	flag.Parse()

	// 1. Config & Logger
	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		slog.Error("❌ Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(infra.NewLogger(cfg))

	// 2. Single instance guard: two cores must not share one journal.
	workDir := infra.GetWorkspaceDir()
	if err := infra.EnsureDir(workDir); err != nil {
		slog.Error("❌ Failed to prepare workspace", slog.Any("error", err))
		os.Exit(1)
	}
	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		slog.Error("❌ Startup blocked", slog.Any("error", err))
		os.Exit(1)
	}
	defer unlock()

	// 3. Metrics endpoint (optional)
	reg := infra.InitMetrics()
	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", infra.MetricsHandler(reg))
			slog.Info("📊 Metrics endpoint started", "addr", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				slog.Error("Metrics endpoint failed", slog.Any("error", err))
			}
		}()
	}

	// 4. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Desk Core: boot, then stream
	core := app.NewCore(cfg)
	if err := core.Start(ctx); err != nil {
		state, cause := core.BootState()
		slog.Error("❌ Boot failed", "state", state.String(), slog.Any("error", cause))
		os.Exit(1)
	}
	defer core.Stop()

	provider := core.Provider()
	infra.PrintBanner(cfg, provider.Provider, provider.Mode)

	slog.InfoContext(ctx, "✨ Desk core operational. Press Ctrl+C to exit.",
		"symbols", len(cfg.Feed.Symbols))

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
