// Command castforge runs the Castforge podcast generation server: an MCP
// control surface over an asynchronous source-to-episode pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/castforge/internal/app"
	"github.com/MrWong99/castforge/internal/config"
	"github.com/MrWong99/castforge/internal/observe"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "castforge: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "castforge",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, app.WithVersion(version))
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func printStartupSummary(cfg *config.Config) {
	statusBackend := "postgres"
	if cfg.DatabaseURL == "" {
		statusBackend = "in-memory"
	}
	artifactBackend := "fs: " + cfg.OutputRoot
	if cfg.AudioBucket != "" {
		artifactBackend = "s3: " + cfg.AudioBucket
	}

	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║         Castforge — startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printRow("Environment", string(cfg.Environment))
	printRow("Port", fmt.Sprintf("%d", cfg.Port))
	printRow("LLM", cfg.Providers.LLM.Name+" / "+cfg.Providers.LLM.Model)
	printRow("TTS", cfg.Providers.TTS.Name)
	printRow("Status store", statusBackend)
	printRow("Artifacts", artifactBackend)
	printRow("Max workers", fmt.Sprintf("%d", cfg.MaxConcurrentGenerations))
	if cfg.Local() {
		printRow("Auth", "local bypass")
	} else {
		printRow("Auth", "oauth + api keys")
	}
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 23 {
		value = value[:20] + "…"
	}
	fmt.Printf("║  %-14s : %-23s ║\n", key, value)
}
