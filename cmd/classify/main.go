// Command classify runs the full pipeline against a single domain and prints
// the result as JSON. Useful for spot checks without the database or queue.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"brandspy/packages/browser"
	"brandspy/packages/classifier"
	"brandspy/packages/config"
	"brandspy/packages/features"
	"brandspy/packages/firecrawl"
	"brandspy/packages/httpfetch"
	"brandspy/packages/vision"
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: classify <domain>")
		os.Exit(2)
	}
	dom := flag.Arg(0)

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	extractor, err := features.New(cfg.DictionaryFile, cfg.GeneralistPenaltyWeight)
	if err != nil {
		slog.Error("Failed to load dictionaries", "error", err)
		os.Exit(1)
	}

	httpFetcher := httpfetch.New(cfg.HTTPFetchTimeout)
	browserFetcher := browser.New(ctx, cfg.BrowserNavTimeout)
	defer browserFetcher.Close()

	var fallback classifier.FallbackFetcher
	if cfg.FirecrawlAPIKey != "" {
		fallback = firecrawl.New(cfg.FirecrawlURL, cfg.FirecrawlAPIKey, cfg.FirecrawlWaitFor, cfg.FirecrawlTimeout)
	}

	var visionScorer classifier.VisionScorer
	if cfg.VisionEnabled {
		visionScorer = vision.New(cfg.OpenAIAPIKey, cfg.VisionModel, cfg.ImagesPerDomain, cfg.MaxImageDimension)
	}

	clf := classifier.New(cfg, httpFetcher, browserFetcher, fallback, visionScorer, extractor)
	result := clf.Classify(ctx, dom)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		slog.Error("Failed to encode result", "error", err)
		os.Exit(1)
	}
}
