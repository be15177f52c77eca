// Package classifier orchestrates the escalation pipeline: cheap HTTP fetch
// first, headless browser when that is thin, a paid scrape fallback when the
// browser fails, and vision scoring when the text verdict cannot be trusted.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"brandspy/packages/config"
	"brandspy/packages/domain"
	"brandspy/packages/features"
	"brandspy/packages/metrics"
)

const maxErrorLength = 500

// HTTPFetcher is the plain-HTTP stage.
type HTTPFetcher interface {
	Fetch(ctx context.Context, dom string) *domain.FetchOutcome
}

// BrowserFetcher is the headless-browser stage. The single-attempt Fetch is
// also used to top up a missing screenshot before vision scoring.
type BrowserFetcher interface {
	Fetch(ctx context.Context, dom string, attempt int) *domain.FetchOutcome
	FetchWithRetries(ctx context.Context, dom string, maxRetries int) *domain.FetchOutcome
}

// FallbackFetcher is the paid scrape stage. Nil when not configured.
type FallbackFetcher interface {
	Fetch(ctx context.Context, dom string) *domain.FetchOutcome
}

// VisionScorer turns product images or a screenshot into a probability.
// Nil when vision is disabled.
type VisionScorer interface {
	ScoreImages(ctx context.Context, imageURLs []string) *float64
	ScoreScreenshot(ctx context.Context, screenshot []byte) *float64
}

type Classifier struct {
	cfg       config.Config
	http      HTTPFetcher
	browser   BrowserFetcher
	fallback  FallbackFetcher
	vision    VisionScorer
	extractor *features.Extractor
}

func New(cfg config.Config, http HTTPFetcher, browser BrowserFetcher, fallback FallbackFetcher, vision VisionScorer, extractor *features.Extractor) *Classifier {
	return &Classifier{
		cfg:       cfg,
		http:      http,
		browser:   browser,
		fallback:  fallback,
		vision:    vision,
		extractor: extractor,
	}
}

// Classify runs the full pipeline for one domain. It always returns a
// populated result and never panics: any failure ends as an "Error" label
// with the error field set.
func (c *Classifier) Classify(ctx context.Context, dom string) (result *domain.Classification) {
	dom = domain.NormalizeDomain(dom)
	result = &domain.Classification{
		Domain:    dom,
		StartedAt: time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Classification panicked", "domain", dom, "panic", r)
			result.Label = domain.LabelError
			result.Confidence = 0
			result.Error = truncate(fmt.Sprintf("panic: %v", r), maxErrorLength)
		}
		result.FinishedAt = time.Now()
		metrics.ClassificationsTotal.WithLabelValues(string(result.Label)).Inc()
		if result.StageUsed != "" {
			metrics.StageUsed.WithLabelValues(result.StageUsed).Inc()
		}
	}()

	working, stage, lastErr := c.runFetchStages(ctx, dom)
	if working == nil {
		result.Label = domain.LabelError
		result.Confidence = 0
		result.Error = truncate(lastErr, maxErrorLength)
		slog.Warn("All fetch stages exhausted", "domain", dom, "error", result.Error)
		return result
	}

	c.score(ctx, dom, working, stage, result)
	return result
}

// runFetchStages walks the fetch states until one produces a usable outcome
// or the pipeline is exhausted. Returns the working outcome, its stage tag,
// and the last error message when nothing worked.
func (c *Classifier) runFetchStages(ctx context.Context, dom string) (*domain.FetchOutcome, string, string) {
	state := StateHTTP
	lastErr := "no fetch stage produced usable output"

	for {
		switch state {
		case StateHTTP:
			o := c.timedFetch(domain.StageHTTP, func() *domain.FetchOutcome {
				return c.http.Fetch(ctx, dom)
			})
			state = NextAfterHTTP(o)
			if state == StateScoring {
				return o, domain.StageHTTP, ""
			}
			if o.Error != "" {
				lastErr = o.Error
			}
			metrics.FetchFailures.WithLabelValues(domain.StageHTTP).Inc()
			slog.Debug("HTTP stage insufficient, escalating to browser",
				"domain", dom, "nav_items", len(o.NavText))

		case StateBrowser:
			o := c.timedFetch(domain.StageBrowser, func() *domain.FetchOutcome {
				return c.browser.FetchWithRetries(ctx, dom, c.cfg.BrowserAttempts)
			})
			state = NextAfterBrowser(o, c.fallback != nil)
			if state == StateScoring {
				return o, domain.StageBrowser, ""
			}
			if o.Error != "" {
				lastErr = o.Error
			}

		case StateFallback:
			o := c.timedFetch(domain.StageFirecrawl, func() *domain.FetchOutcome {
				return c.fallback.Fetch(ctx, dom)
			})
			state = NextAfterFallback(o)
			if state == StateScoring {
				return o, domain.StageFirecrawl, ""
			}
			if o.Error != "" {
				lastErr = o.Error
			}
			metrics.FetchFailures.WithLabelValues(domain.StageFirecrawl).Inc()

		case StateError:
			return nil, "", lastErr

		default:
			return nil, "", lastErr
		}
	}
}

func (c *Classifier) timedFetch(stage string, fn func() *domain.FetchOutcome) *domain.FetchOutcome {
	start := time.Now()
	outcome := fn()
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return outcome
}

// score derives features from the working outcome, computes the text score,
// escalates to vision when the verdict is uncertain or the text is too thin,
// fuses the channels and maps the final score to a label.
func (c *Classifier) score(ctx context.Context, dom string, working *domain.FetchOutcome, stage string, result *domain.Classification) {
	feats := c.extractor.Build(dom, working)
	textScore := c.extractor.ScoreText(feats)

	result.TextScore = &textScore.Score
	result.NavCount = len(feats.NavText)
	result.HeadingCount = len(feats.HeadingText)
	result.HTTPStatus = working.HTTPStatus
	result.FinalURL = working.FinalURL

	reasons := buildReasons(textScore, feats)

	finalScore := textScore.Score
	visionUsed := false

	if c.needsVision(textScore.Score, feats) && c.vision != nil && c.cfg.VisionEnabled {
		c.topUpScreenshot(ctx, dom, stage, feats)

		visionScore := c.runVision(ctx, dom, feats)
		if visionScore != nil {
			result.VisionScore = visionScore
			result.ImageCount = analyzedImages(feats, c.cfg.ImagesPerDomain)
			finalScore = c.fuse(textScore.Score, *visionScore, feats)
			visionUsed = true
			reasons = append(reasons, fmt.Sprintf("vision_score=%.2f", *visionScore))
		} else {
			reasons = append(reasons, "vision_unavailable")
		}
	}

	result.FinalScore = finalScore
	result.StageUsed = stage
	if visionUsed {
		result.StageUsed += "+vision"
	}
	result.Label, result.Confidence = c.mapLabel(finalScore)
	result.Reasons = strings.Join(reasons, "; ")

	slog.Info("Domain classified", "domain", dom, "label", result.Label,
		"final_score", fmt.Sprintf("%.3f", finalScore), "stage", result.StageUsed,
		"language", textScore.Language)
}

// needsVision triggers the expensive channel when the text score sits inside
// the uncertain band, or when extraction was too thin to trust at all.
func (c *Classifier) needsVision(textScore float64, feats *domain.Features) bool {
	if feats.TextSparse() {
		return true
	}
	return textScore >= c.cfg.UncertainMin && textScore <= c.cfg.UncertainMax
}

// topUpScreenshot fetches visual evidence via a single browser attempt when
// the working stage was HTTP-only and captured neither images nor screenshot.
func (c *Classifier) topUpScreenshot(ctx context.Context, dom, stage string, feats *domain.Features) {
	if stage != domain.StageHTTP || len(feats.Screenshot) > 0 || len(feats.ImageURLs) > 0 {
		return
	}
	slog.Debug("Fetching screenshot for vision scoring", "domain", dom)
	o := c.browser.Fetch(ctx, dom, 0)
	if len(o.Screenshot) > 0 {
		feats.Screenshot = o.Screenshot
	}
	if len(o.ImageURLs) > 0 {
		feats.ImageURLs = o.ImageURLs
	}
}

// analyzedImages reports how many visual inputs the vision stage consumed:
// product images capped at the per-domain budget, or one screenshot.
func analyzedImages(feats *domain.Features, imagesPerDomain int) int {
	if len(feats.ImageURLs) > 0 {
		return min(len(feats.ImageURLs), imagesPerDomain)
	}
	if len(feats.Screenshot) > 0 {
		return 1
	}
	return 0
}

func (c *Classifier) runVision(ctx context.Context, dom string, feats *domain.Features) *float64 {
	if len(feats.ImageURLs) > 0 {
		return c.vision.ScoreImages(ctx, feats.ImageURLs)
	}
	if len(feats.Screenshot) > 0 {
		return c.vision.ScoreScreenshot(ctx, feats.Screenshot)
	}
	slog.Debug("No visual evidence available for vision scoring", "domain", dom)
	return nil
}

// fuse merges the two channels. When text extraction failed outright the text
// channel is known-unreliable, so almost all the weight goes to vision.
func (c *Classifier) fuse(textScore, visionScore float64, feats *domain.Features) float64 {
	if feats.TextSparse() {
		return 0.1*textScore + 0.9*visionScore
	}
	return c.cfg.TextWeight*textScore + c.cfg.VisionWeight*visionScore
}

func (c *Classifier) mapLabel(finalScore float64) (domain.Label, float64) {
	switch {
	case finalScore >= c.cfg.PureBodywearThreshold:
		return domain.PureBodywear, finalScore
	case finalScore >= c.cfg.BodywearLeaningThreshold:
		return domain.BodywearLeaning, finalScore
	case finalScore >= c.cfg.GeneralistThreshold:
		return domain.NeedsReview, 0.5
	default:
		return domain.Generalist, 1 - finalScore
	}
}

func buildReasons(ts domain.TextScore, feats *domain.Features) []string {
	reasons := []string{
		fmt.Sprintf("text_score=%.2f", ts.Score),
		fmt.Sprintf("language=%s", ts.Language),
	}
	if len(ts.BodywearTerms) > 0 {
		reasons = append(reasons, "bodywear_terms="+strings.Join(ts.BodywearTerms, ","))
	}
	if len(ts.GeneralistTerms) > 0 {
		reasons = append(reasons, "generalist_terms="+strings.Join(ts.GeneralistTerms, ","))
	}
	if feats.TextSparse() {
		reasons = append(reasons, "text_extraction_failed")
	}
	return reasons
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
