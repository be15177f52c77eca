// Package browser is the headless-browser fetch stage. It renders JS-heavy
// storefronts in Chrome, dismisses overlays, captures a screenshot and
// extracts the same text features the plain HTTP stage produces.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"brandspy/packages/domain"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
}

// waitStrategies are cycled across retry attempts so that a site that never
// reaches network idle still gets a cheaper readiness condition next time.
var waitStrategies = []string{"domcontentloaded", "load", "networkidle"}

type Fetcher struct {
	allocCtx   context.Context
	allocStop  context.CancelFunc
	navTimeout time.Duration
	dismisser  *Dismisser
}

// New starts a shared Chrome allocator. Each fetch attempt gets its own
// isolated browser context on top of it.
func New(parent context.Context, navTimeout time.Duration) *Fetcher {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocStop := chromedp.NewExecAllocator(parent, opts...)

	return &Fetcher{
		allocCtx:   allocCtx,
		allocStop:  allocStop,
		navTimeout: navTimeout,
		dismisser:  NewDismisser(),
	}
}

func (f *Fetcher) Close() {
	f.allocStop()
}

// Fetch runs one browser attempt against a domain. The attempt number selects
// the user agent and readiness condition. The returned outcome is never nil;
// partial evidence such as an early screenshot survives a later failure.
func (f *Fetcher) Fetch(ctx context.Context, dom string, attempt int) *domain.FetchOutcome {
	outcome := &domain.FetchOutcome{}

	tabCtx, cancel := chromedp.NewContext(f.allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancel()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, f.navTimeout+20*time.Second)
	defer cancelTimeout()

	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	ua := userAgents[attempt%len(userAgents)]
	waitUntil := waitStrategies[attempt%len(waitStrategies)]
	slog.Debug("Browser fetch", "domain", dom, "attempt", attempt+1, "wait_until", waitUntil)

	err := chromedp.Run(tabCtx,
		emulation.SetUserAgentOverride(ua),
		emulation.SetTimezoneOverride("America/New_York"),
		emulation.SetLocaleOverride().WithLocale("en-US"),
		chromedp.EmulateViewport(1920, 1080),
	)
	if err != nil {
		outcome.Error = truncate("browser setup failed: "+err.Error(), 200)
		return outcome
	}

	navCtx, cancelNav := context.WithTimeout(tabCtx, f.navTimeout)
	resp, err := chromedp.RunResponse(navCtx, chromedp.Navigate("https://"+dom))
	cancelNav()
	if err != nil {
		slog.Debug("HTTPS navigation failed, trying HTTP", "domain", dom, "error", err)
		navCtx, cancelNav = context.WithTimeout(tabCtx, f.navTimeout)
		resp, err = chromedp.RunResponse(navCtx, chromedp.Navigate("http://"+dom))
		cancelNav()
		if err != nil {
			outcome.Error = truncate(fmt.Sprintf("both https and http failed: %v", err), 200)
			return outcome
		}
	}

	if resp != nil {
		outcome.HTTPStatus = int(resp.Status)
	}
	var finalURL string
	if locErr := chromedp.Run(tabCtx, chromedp.Location(&finalURL)); locErr == nil {
		outcome.FinalURL = finalURL
	}

	// Bot challenges answer 403/503; retrying the DOM is pointless but the
	// challenge screenshot is still evidence for the vision stage.
	if outcome.HTTPStatus == 403 || outcome.HTTPStatus == 503 {
		slog.Warn("Challenge page detected", "domain", dom, "status", outcome.HTTPStatus)
		outcome.Error = fmt.Sprintf("challenge page: HTTP %d", outcome.HTTPStatus)
		outcome.Screenshot, _ = captureScreenshot(tabCtx)
		return outcome
	}

	f.waitForReadiness(tabCtx, waitUntil)

	// Screenshot before any DOM manipulation so overlay hiding cannot
	// destroy the visual evidence.
	if shot, shotErr := captureScreenshot(tabCtx); shotErr == nil {
		outcome.Screenshot = shot
		slog.Debug("Screenshot captured", "domain", dom, "bytes", len(shot))
	} else {
		slog.Debug("Screenshot failed", "domain", dom, "error", shotErr)
	}

	f.waitForNavAttached(tabCtx, 5*time.Second)

	chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		f.dismisser.DismissAgeGates(ctx)
		dismissed := f.dismisser.DismissAll(ctx)
		if len(dismissed.MethodsUsed) > 0 {
			slog.Debug("Overlays dismissed", "domain", dom,
				"methods", dismissed.MethodsUsed, "attempts", dismissed.Attempts)
		}
		return nil
	}))

	err = chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return extractFeatures(ctx, outcome)
	}))
	if err != nil {
		outcome.Error = truncate("feature extraction failed: "+err.Error(), 200)
		return outcome
	}

	outcome.Success = true
	outcome.Error = ""
	slog.Info("Browser fetch successful", "domain", dom,
		"nav_items", len(outcome.NavText), "headings", len(outcome.HeadingText),
		"images", len(outcome.ImageURLs))
	return outcome
}

func captureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(70).
			Do(ctx)
		return err
	}))
	return buf, err
}

// waitForReadiness approximates the named readiness condition by polling the
// document ready state. The navigate call already waited for the load event;
// this only adds the extra settling the stricter strategies ask for.
func (f *Fetcher) waitForReadiness(ctx context.Context, waitUntil string) {
	if waitUntil == "domcontentloaded" {
		return
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var readyState string
		if err := chromedp.Run(ctx, chromedp.Evaluate("document.readyState", &readyState)); err == nil {
			if readyState == "complete" {
				if waitUntil == "networkidle" {
					sleep(ctx, 2*time.Second)
				}
				return
			}
		}
		sleep(ctx, 500*time.Millisecond)
	}
}

func (f *Fetcher) waitForNavAttached(ctx context.Context, maxWait time.Duration) {
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var found bool
		script := `document.querySelector("nav, header, [role='navigation']") !== null`
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, &found)); err == nil && found {
			return
		}
		sleep(ctx, 500*time.Millisecond)
	}
	slog.Debug("No nav/header region attached, continuing anyway")
}

// IsChallenge reports whether an outcome failed on a bot-challenge page.
func IsChallenge(o *domain.FetchOutcome) bool {
	return strings.HasPrefix(o.Error, "challenge page")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
