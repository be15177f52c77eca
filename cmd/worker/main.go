package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"brandspy/packages/browser"
	"brandspy/packages/classifier"
	"brandspy/packages/config"
	"brandspy/packages/db"
	"brandspy/packages/features"
	"brandspy/packages/firecrawl"
	"brandspy/packages/httpfetch"
	"brandspy/packages/metrics"
	"brandspy/packages/vision"
	"brandspy/packages/worker"

	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
)

func setupLogger(cfg config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logDir := filepath.Dir(cfg.LogFile)
	if err := os.MkdirAll(logDir, 0750); err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error(
			"Failed to create log directory", "path", logDir, "error", err,
		)
	}

	logRotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    5,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	}

	multiWriter := io.MultiWriter(os.Stdout, logRotator)

	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		},
	}).WithAttrs([]slog.Attr{slog.String("service", "brandspy-worker")})

	slog.SetDefault(slog.New(handler))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("FATAL: Failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("--- Starting BrandSpy Worker ---")

	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	go metrics.ExposeMetrics(cfg.MetricsAddr)

	storage, err := db.New(ctx, cfg.DatabaseURL, db.Config{JobTimeout: cfg.JobTimeout})
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	clf, browserFetcher, err := buildClassifier(ctx, cfg)
	if err != nil {
		slog.Error("Failed to build classifier", "error", err)
		os.Exit(1)
	}
	defer browserFetcher.Close()

	appWorker := worker.New(cfg, storage, clf, rdb)

	ticker := time.NewTicker(cfg.SleepInterval)
	defer ticker.Stop()

	reaperTicker := time.NewTicker(5 * time.Minute)
	defer reaperTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutdown signal received. Exiting...")
			return
		case <-ticker.C:
			slog.Debug("Worker cycle starting")
			appWorker.ProcessJobs(ctx)
			appWorker.UpdatePendingGauge(ctx)
		case <-reaperTicker.C:
			storage.ResetStalledJobs(ctx)
		}
	}
}

func buildClassifier(ctx context.Context, cfg config.Config) (*classifier.Classifier, *browser.Fetcher, error) {
	extractor, err := features.New(cfg.DictionaryFile, cfg.GeneralistPenaltyWeight)
	if err != nil {
		return nil, nil, err
	}

	httpFetcher := httpfetch.New(cfg.HTTPFetchTimeout)
	browserFetcher := browser.New(ctx, cfg.BrowserNavTimeout)

	var fallback classifier.FallbackFetcher
	if cfg.FirecrawlAPIKey != "" {
		fallback = firecrawl.New(cfg.FirecrawlURL, cfg.FirecrawlAPIKey, cfg.FirecrawlWaitFor, cfg.FirecrawlTimeout)
	}

	var visionScorer classifier.VisionScorer
	if cfg.VisionEnabled {
		visionScorer = vision.New(cfg.OpenAIAPIKey, cfg.VisionModel, cfg.ImagesPerDomain, cfg.MaxImageDimension)
	}

	clf := classifier.New(cfg, httpFetcher, browserFetcher, fallback, visionScorer, extractor)
	return clf, browserFetcher, nil
}
