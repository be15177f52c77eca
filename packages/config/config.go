// Package config
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string

	// External API keys. Vision is disabled without an OpenAI key; the
	// Firecrawl fallback stage is skipped without a Firecrawl key.
	OpenAIAPIKey    string
	FirecrawlAPIKey string
	FirecrawlURL    string

	// Stage timeouts and retry policy
	HTTPFetchTimeout  time.Duration
	BrowserNavTimeout time.Duration
	BrowserAttempts   int
	FirecrawlTimeout  time.Duration
	FirecrawlWaitFor  time.Duration

	// Vision settings
	VisionEnabled     bool
	VisionModel       string
	ImagesPerDomain   int
	MaxImageDimension int

	// Scoring thresholds and weights
	UncertainMin             float64
	UncertainMax             float64
	TextWeight               float64
	VisionWeight             float64
	GeneralistPenaltyWeight  float64
	PureBodywearThreshold    float64
	BodywearLeaningThreshold float64
	GeneralistThreshold      float64

	// Optional override for the embedded term dictionaries
	DictionaryFile string

	// Worker settings
	BatchSize     int
	MaxWorkers    int
	SleepInterval time.Duration
	JobTimeout    time.Duration
	MetricsAddr   string

	// Redis dedupe guard
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SeenSetKey    string

	// Logging configuration
	LogFile  string
	LogLevel string
}

func Load() (Config, error) {
	cfg := Config{}

	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", "")
	cfg.FirecrawlAPIKey = getEnv("FIRECRAWL_API_KEY", "")
	cfg.FirecrawlURL = getEnv("FIRECRAWL_URL", "https://api.firecrawl.dev/v1")

	cfg.HTTPFetchTimeout = getDuration("HTTP_FETCH_TIMEOUT", 20*time.Second)
	cfg.BrowserNavTimeout = getDuration("BROWSER_NAV_TIMEOUT", 30*time.Second)
	cfg.BrowserAttempts = getInt("BROWSER_ATTEMPTS", 3)
	cfg.FirecrawlTimeout = getDuration("FIRECRAWL_TIMEOUT", 30*time.Second)
	cfg.FirecrawlWaitFor = getDuration("FIRECRAWL_WAIT_FOR", 3*time.Second)

	cfg.VisionEnabled = getBool("VISION_ENABLED", true)
	cfg.VisionModel = getEnv("VISION_MODEL", "gpt-4o-mini")
	cfg.ImagesPerDomain = getInt("IMAGES_PER_DOMAIN", 3)
	cfg.MaxImageDimension = getInt("MAX_IMAGE_DIMENSION", 512)

	cfg.UncertainMin = getFloat("SCORE_UNCERTAIN_MIN", 0.40)
	cfg.UncertainMax = getFloat("SCORE_UNCERTAIN_MAX", 0.75)
	cfg.TextWeight = getFloat("FUSION_TEXT_WEIGHT", 0.4)
	cfg.VisionWeight = getFloat("FUSION_VISION_WEIGHT", 0.6)
	cfg.GeneralistPenaltyWeight = getFloat("GENERALIST_PENALTY_WEIGHT", 1.0)
	cfg.PureBodywearThreshold = getFloat("THRESHOLD_PURE_BODYWEAR", 0.75)
	cfg.BodywearLeaningThreshold = getFloat("THRESHOLD_BODYWEAR_LEANING", 0.55)
	cfg.GeneralistThreshold = getFloat("THRESHOLD_GENERALIST", 0.40)

	cfg.DictionaryFile = getEnv("DICTIONARY_FILE", "")

	cfg.BatchSize = getInt("BATCH_SIZE", 20)
	cfg.MaxWorkers = getInt("MAX_WORKERS", 4)
	cfg.SleepInterval = getDuration("SLEEP_INTERVAL", 5*time.Second)
	cfg.JobTimeout = getDuration("JOB_TIMEOUT", 15*time.Minute)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "0.0.0.0:9094")

	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getInt("REDIS_DB", 0)
	cfg.SeenSetKey = getEnv("SEEN_SET_KEY", "brandspy:classified_domains")

	cfg.LogFile = getEnv("LOG_FILE", "logs/worker.log")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	if cfg.OpenAIAPIKey == "" && cfg.VisionEnabled {
		slog.Warn("OPENAI_API_KEY not set. Vision scoring will be disabled.")
		cfg.VisionEnabled = false
	}
	if cfg.FirecrawlAPIKey == "" {
		slog.Info("FIRECRAWL_API_KEY not set. Firecrawl fallback disabled.")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Invalid integer in environment", "key", key, "value", raw, "error", err)
		return defaultVal
	}
	return v
}

func getFloat(key string, defaultVal float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("Invalid float in environment", "key", key, "value", raw, "error", err)
		return defaultVal
	}
	return v
}

func getBool(key string, defaultVal bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("Invalid boolean in environment", "key", key, "value", raw, "error", err)
		return defaultVal
	}
	return v
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration in environment", "key", key, "value", raw, "error", err)
		return defaultVal
	}
	return v
}
