package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/makeasinger/lrcgen/internal/client"
	"github.com/makeasinger/lrcgen/internal/config"
	"github.com/makeasinger/lrcgen/internal/logging"
	"github.com/makeasinger/lrcgen/internal/metrics"
	"github.com/makeasinger/lrcgen/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.IsDevelopment(), cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Metrics registry with Go runtime and process collectors
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	// Initialize Redis client (optional, backs rate limiting)
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis not available, rate limiting fails open", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		cancel()
	} else {
		logger.Info("Redis not configured, rate limiting disabled")
	}

	// Gemini transcriber, one strategy for the process lifetime
	transcriber, err := client.NewAudioTranscriber(&cfg.Gemini, logger)
	if err != nil {
		logger.Fatal("Failed to create transcriber", zap.Error(err))
	}

	app := server.New(server.Deps{
		Config:      cfg,
		Logger:      logger,
		Metrics:     m,
		Gatherer:    registry,
		Redis:       redisClient,
		Transcriber: transcriber,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Start server
	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		logger.Info("Server starting",
			zap.String("addr", addr),
			zap.String("env", cfg.Server.Env),
			zap.String("model", cfg.Gemini.Model),
			zap.String("upload_mode", transcriber.Mode()),
			zap.Int64("max_file_size", cfg.Upload.MaxFileSize),
		)
		return app.Listen(addr)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
