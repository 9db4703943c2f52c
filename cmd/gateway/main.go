package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/limiter"
	"github.com/modelgate/modelgate/internal/server"
	"github.com/modelgate/modelgate/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the gateway config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("modelgate", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(config.LoadOptions{Path: *configPath})
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var lim *limiter.UsageLimiter
	if ul := cfg.Gateway.UsageLimits; ul.Enabled {
		lim = limiter.New(limiter.Config{
			RedisURL:     ul.RedisURL,
			CacheTTL:     ul.CacheTTL,
			SyncInterval: ul.SyncInterval,
			StoreTimeout: ul.StoreTimeout,
			FailOpen:     ul.FailOpen,
			CacheSize:    ul.CacheSize,
		}, logger)
		defer lim.Close()
	}

	srv := server.New(cfg, lim, server.DummyTransport{}, logger)
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	logger.Info("Gateway started successfully",
		slog.String("config", *configPath),
		slog.Bool("usage_limits", lim != nil),
		slog.Int("models", cfg.Models().Len()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Gateway shutdown complete")
}
