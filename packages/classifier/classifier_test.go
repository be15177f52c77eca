package classifier

import (
	"context"
	"testing"

	"brandspy/packages/config"
	"brandspy/packages/domain"
	"brandspy/packages/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHTTP struct {
	outcome *domain.FetchOutcome
	calls   int
}

func (f *fakeHTTP) Fetch(ctx context.Context, dom string) *domain.FetchOutcome {
	f.calls++
	return f.outcome
}

type fakeBrowser struct {
	retryOutcome  *domain.FetchOutcome
	singleOutcome *domain.FetchOutcome
	retryCalls    int
	singleCalls   int
}

func (f *fakeBrowser) FetchWithRetries(ctx context.Context, dom string, maxRetries int) *domain.FetchOutcome {
	f.retryCalls++
	return f.retryOutcome
}

func (f *fakeBrowser) Fetch(ctx context.Context, dom string, attempt int) *domain.FetchOutcome {
	f.singleCalls++
	return f.singleOutcome
}

type fakeFallback struct {
	outcome *domain.FetchOutcome
	calls   int
}

func (f *fakeFallback) Fetch(ctx context.Context, dom string) *domain.FetchOutcome {
	f.calls++
	return f.outcome
}

type fakeVision struct {
	imageScore      *float64
	screenshotScore *float64
	imageCalls      int
	screenshotCalls int
	panics          bool
}

func (f *fakeVision) ScoreImages(ctx context.Context, imageURLs []string) *float64 {
	if f.panics {
		panic("vision exploded")
	}
	f.imageCalls++
	return f.imageScore
}

func (f *fakeVision) ScoreScreenshot(ctx context.Context, screenshot []byte) *float64 {
	if f.panics {
		panic("vision exploded")
	}
	f.screenshotCalls++
	return f.screenshotScore
}

func testConfig() config.Config {
	return config.Config{
		BrowserAttempts:          3,
		VisionEnabled:            true,
		ImagesPerDomain:          3,
		UncertainMin:             0.40,
		UncertainMax:             0.75,
		TextWeight:               0.4,
		VisionWeight:             0.6,
		PureBodywearThreshold:    0.75,
		BodywearLeaningThreshold: 0.55,
		GeneralistThreshold:      0.40,
	}
}

func testExtractor(t *testing.T) *features.Extractor {
	t.Helper()
	e, err := features.New("", 1.0)
	require.NoError(t, err)
	return e
}

func failedOutcome(errMsg string) *domain.FetchOutcome {
	return &domain.FetchOutcome{Error: errMsg}
}

func ptr(v float64) *float64 { return &v }

func TestClassifySkipsBrowserOnRichHTTPOutcome(t *testing.T) {
	cfg := testConfig()
	cfg.VisionEnabled = false

	httpFetcher := &fakeHTTP{outcome: &domain.FetchOutcome{
		Success:    true,
		HTTPStatus: 200,
		NavText:    []string{"bras", "lingerie", "sleepwear", "swimwear", "shapewear"},
	}}
	browserFetcher := &fakeBrowser{}
	fallback := &fakeFallback{}

	c := New(cfg, httpFetcher, browserFetcher, fallback, nil, testExtractor(t))
	result := c.Classify(context.Background(), "Example.COM")

	assert.Equal(t, "example.com", result.Domain)
	assert.Equal(t, "http", result.StageUsed)
	assert.Equal(t, 0, browserFetcher.retryCalls, "browser must not run when HTTP is sufficient")
	assert.Equal(t, 0, fallback.calls, "fallback must not run when HTTP is sufficient")
	assert.Equal(t, domain.PureBodywear, result.Label)
	assert.Equal(t, result.FinalScore, result.Confidence)
	require.NotNil(t, result.TextScore)
	assert.Greater(t, *result.TextScore, 0.0)
	assert.Empty(t, result.Error)
}

func TestClassifyErrorWhenAllStagesFail(t *testing.T) {
	cfg := testConfig()
	httpFetcher := &fakeHTTP{outcome: failedOutcome("bad status code: 403")}
	browserFetcher := &fakeBrowser{retryOutcome: failedOutcome("all retries exhausted")}

	c := New(cfg, httpFetcher, browserFetcher, nil, &fakeVision{}, testExtractor(t))
	result := c.Classify(context.Background(), "unreachable.example")

	assert.Equal(t, domain.LabelError, result.Label)
	assert.Empty(t, result.StageUsed)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestClassifyErrorIsIdempotent(t *testing.T) {
	cfg := testConfig()
	httpFetcher := &fakeHTTP{outcome: failedOutcome("connection refused")}
	browserFetcher := &fakeBrowser{retryOutcome: failedOutcome("all retries exhausted")}

	c := New(cfg, httpFetcher, browserFetcher, nil, nil, testExtractor(t))

	first := c.Classify(context.Background(), "unreachable.example")
	second := c.Classify(context.Background(), "unreachable.example")

	assert.Equal(t, domain.LabelError, first.Label)
	assert.Equal(t, first.Label, second.Label)
	assert.Equal(t, first.StageUsed, second.StageUsed)
}

func TestClassifyUsesFallbackWhenBrowserUnusable(t *testing.T) {
	cfg := testConfig()
	cfg.VisionEnabled = false

	httpFetcher := &fakeHTTP{outcome: failedOutcome("timeout")}
	browserFetcher := &fakeBrowser{retryOutcome: failedOutcome("all retries exhausted")}
	fallback := &fakeFallback{outcome: &domain.FetchOutcome{
		Success: true,
		NavText: []string{"bras", "lingerie", "sleepwear", "swimwear", "hosiery"},
	}}

	c := New(cfg, httpFetcher, browserFetcher, fallback, nil, testExtractor(t))
	result := c.Classify(context.Background(), "example.com")

	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, "firecrawl", result.StageUsed)
	assert.NotEqual(t, domain.LabelError, result.Label)
}

func TestClassifyFusesNinetyPercentVisionOnSparseText(t *testing.T) {
	cfg := testConfig()
	httpFetcher := &fakeHTTP{outcome: failedOutcome("timeout")}
	browserFetcher := &fakeBrowser{retryOutcome: &domain.FetchOutcome{
		Success:    true,
		Screenshot: []byte{0xff, 0xd8, 0xff},
	}}
	vision := &fakeVision{screenshotScore: ptr(0.8)}

	c := New(cfg, httpFetcher, browserFetcher, nil, vision, testExtractor(t))
	result := c.Classify(context.Background(), "example.com")

	require.NotNil(t, result.VisionScore)
	assert.Equal(t, 1, vision.screenshotCalls)
	// text extraction failed, so fusion shifts to 0.1 text / 0.9 vision
	assert.InDelta(t, 0.1*0.0+0.9*0.8, result.FinalScore, 1e-9)
	assert.Equal(t, "browser+vision", result.StageUsed)
	assert.Equal(t, domain.BodywearLeaning, result.Label)
	assert.Equal(t, 1, result.ImageCount, "one screenshot was analyzed")
}

func TestClassifyVisionUnavailableFallsBackToTextOnly(t *testing.T) {
	cfg := testConfig()
	httpFetcher := &fakeHTTP{outcome: failedOutcome("timeout")}
	browserFetcher := &fakeBrowser{retryOutcome: &domain.FetchOutcome{
		Success:    true,
		Screenshot: []byte{0xff, 0xd8, 0xff},
	}}
	vision := &fakeVision{screenshotScore: nil}

	c := New(cfg, httpFetcher, browserFetcher, nil, vision, testExtractor(t))
	result := c.Classify(context.Background(), "example.com")

	assert.Nil(t, result.VisionScore)
	assert.Equal(t, "browser", result.StageUsed)
	assert.NotEqual(t, domain.LabelError, result.Label)
	require.NotNil(t, result.TextScore)
	assert.Equal(t, *result.TextScore, result.FinalScore)
	assert.Contains(t, result.Reasons, "vision_unavailable")
	assert.Equal(t, 0, result.ImageCount, "nothing was analyzed when vision yields no score")
}

func TestClassifyCapsAnalyzedImageCount(t *testing.T) {
	cfg := testConfig()
	httpFetcher := &fakeHTTP{outcome: failedOutcome("timeout")}
	browserFetcher := &fakeBrowser{retryOutcome: &domain.FetchOutcome{
		Success: true,
		ImageURLs: []string{
			"https://shop.example/p1.jpg", "https://shop.example/p2.jpg",
			"https://shop.example/p3.jpg", "https://shop.example/p4.jpg",
			"https://shop.example/p5.jpg",
		},
		Screenshot: []byte{0xff, 0xd8, 0xff},
	}}
	vision := &fakeVision{imageScore: ptr(0.9)}

	c := New(cfg, httpFetcher, browserFetcher, nil, vision, testExtractor(t))
	result := c.Classify(context.Background(), "example.com")

	assert.Equal(t, 1, vision.imageCalls)
	assert.Equal(t, 0, vision.screenshotCalls, "product images take precedence over the screenshot")
	assert.Equal(t, 3, result.ImageCount, "reported count is the per-domain budget, not the extracted total")
	assert.Equal(t, "browser+vision", result.StageUsed)
}

func TestNeedsVisionBandBoundaries(t *testing.T) {
	c := New(testConfig(), nil, nil, nil, nil, nil)
	feats := &domain.Features{
		NavText:     []string{"a", "b", "c", "d", "e"},
		HeadingText: []string{"x", "y", "z"},
	}

	assert.False(t, c.needsVision(0.39, feats))
	assert.True(t, c.needsVision(0.40, feats))
	assert.True(t, c.needsVision(0.75, feats), "the band includes its upper bound")
	assert.False(t, c.needsVision(0.76, feats))
	assert.True(t, c.needsVision(0.90, &domain.Features{}), "sparse text always triggers vision")
}

func TestClassifyTopsUpScreenshotForBorderlineHTTPResult(t *testing.T) {
	cfg := testConfig()

	// Text score lands inside the uncertain band, so vision is consulted even
	// though the HTTP stage was accepted.
	httpFetcher := &fakeHTTP{outcome: &domain.FetchOutcome{
		Success: true,
		NavText: []string{"bras", "lingerie", "sleepwear", "dresses", "shoes"},
	}}
	browserFetcher := &fakeBrowser{singleOutcome: &domain.FetchOutcome{
		Screenshot: []byte{0xff, 0xd8, 0xff},
	}}
	vision := &fakeVision{screenshotScore: ptr(0.5)}

	c := New(cfg, httpFetcher, browserFetcher, nil, vision, testExtractor(t))
	result := c.Classify(context.Background(), "example.com")

	require.NotNil(t, result.TextScore)
	textScore := *result.TextScore
	require.True(t, textScore >= cfg.UncertainMin && textScore < cfg.UncertainMax,
		"scenario must land in the uncertain band, got %f", textScore)

	assert.Equal(t, 0, browserFetcher.retryCalls)
	assert.Equal(t, 1, browserFetcher.singleCalls, "one browser attempt only, for the screenshot")
	assert.Equal(t, 1, vision.screenshotCalls)
	assert.Equal(t, "http+vision", result.StageUsed)
	assert.InDelta(t, cfg.TextWeight*textScore+cfg.VisionWeight*0.5, result.FinalScore, 1e-9)
}

func TestClassifyRecoversFromPanic(t *testing.T) {
	cfg := testConfig()
	httpFetcher := &fakeHTTP{outcome: failedOutcome("timeout")}
	browserFetcher := &fakeBrowser{retryOutcome: &domain.FetchOutcome{
		Success:    true,
		Screenshot: []byte{0xff, 0xd8, 0xff},
	}}
	vision := &fakeVision{panics: true}

	c := New(cfg, httpFetcher, browserFetcher, nil, vision, testExtractor(t))

	var result *domain.Classification
	require.NotPanics(t, func() {
		result = c.Classify(context.Background(), "example.com")
	})
	assert.Equal(t, domain.LabelError, result.Label)
	assert.Contains(t, result.Error, "panic")
}

func TestMapLabelPartitionsUnitInterval(t *testing.T) {
	cfg := testConfig()
	c := New(cfg, nil, nil, nil, nil, nil)

	for i := 0; i <= 100; i++ {
		score := float64(i) / 100
		label, confidence := c.mapLabel(score)

		assert.Contains(t, []domain.Label{
			domain.PureBodywear, domain.BodywearLeaning, domain.NeedsReview, domain.Generalist,
		}, label, "score %f must map to a non-error label", score)
		assert.GreaterOrEqual(t, confidence, 0.0)
		assert.LessOrEqual(t, confidence, 1.0)

		switch {
		case score >= 0.75:
			assert.Equal(t, domain.PureBodywear, label)
			assert.Equal(t, score, confidence)
		case score >= 0.55:
			assert.Equal(t, domain.BodywearLeaning, label)
		case score >= 0.40:
			assert.Equal(t, domain.NeedsReview, label)
			assert.Equal(t, 0.5, confidence)
		default:
			assert.Equal(t, domain.Generalist, label)
			assert.Equal(t, 1-score, confidence)
		}
	}
}
