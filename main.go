package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"flight_fence/internal/config"
	"flight_fence/internal/daemon"
)

func initLogger(cfg *config.Config) {
	var logLevel slog.Level
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("FLIGHT_FENCE_CONFIG_PATH", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		// Logger isn't initialized yet
		basicLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		basicLogger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	initLogger(cfg)

	slog.Info("Configuration loaded",
		"feed_url", cfg.Feed.URL,
		"min_lat", cfg.Region.MinLat,
		"max_lat", cfg.Region.MaxLat,
		"min_lon", cfg.Region.MinLon,
		"max_lon", cfg.Region.MaxLon,
		"snapshot_cap", cfg.SnapshotCap,
		"storage_driver", cfg.Storage.Driver,
	)

	d, err := daemon.New(cfg)
	if err != nil {
		slog.Error("Failed to start", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := d.Run(ctx)
	if runErr != nil {
		slog.Error("Daemon exited with error", "error", runErr)
	}

	if err := d.Close(); err != nil {
		slog.Error("Error closing daemon", "error", err)
	}

	slog.Info("Shutdown complete")
	if runErr != nil {
		os.Exit(1)
	}
}
