package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// cmpProviders maps consent-management platforms to their banner and accept
// button selectors. Checked in order before falling back to generic patterns.
var cmpProviders = []struct {
	Name   string
	Banner string
	Accept string
}{
	{"onetrust", "#onetrust-banner-sdk", "#onetrust-accept-btn-handler"},
	{"cookiebot", "#CybotCookiebotDialog", "#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll"},
	{"trustarc", "#truste-consent-track", "#truste-consent-button"},
	{"quantcast", ".qc-cmp2-container", ".qc-cmp2-summary-buttons button[mode='primary']"},
	{"didomi", "#didomi-host", "#didomi-notice-agree-button"},
	{"usercentrics", "#usercentrics-root", "[data-testid='uc-accept-all-button']"},
	{"cookieyes", ".cky-consent-container", ".cky-btn-accept"},
}

var genericAcceptTexts = []string{
	"accept all", "accept cookies", "accept", "allow all", "i agree", "agree", "got it", "ok",
}

var newsletterCloseSelectors = []string{
	"[aria-label='Close']",
	"[aria-label='close']",
	"button.close",
	".modal-close",
	".popup-close",
	"[class*='modal'] [class*='close']",
	"[class*='popup'] [class*='close']",
	"[data-testid='close-button']",
}

var newsletterCloseTexts = []string{"×", "✕", "no thanks", "no, thanks", "maybe later", "not now"}

var ageGateTexts = []string{"yes", "enter", "i am 18", "i am over 18", "continue"}

// DismissResult records what the dismisser managed to do on one page.
type DismissResult struct {
	CMPDismissed        bool
	NewsletterDismissed bool
	ObstructionCleared  bool
	Attempts            int
	MethodsUsed         []string
}

// Dismisser clears cookie banners, newsletter modals and age gates so that a
// screenshot shows the page itself rather than an overlay.
type Dismisser struct {
	MaxAttempts          int
	ObstructionThreshold float64
}

func NewDismisser() *Dismisser {
	return &Dismisser{MaxAttempts: 3, ObstructionThreshold: 0.25}
}

// DismissAll loops dismissal strategies until the sampled viewport obstruction
// falls below the threshold or attempts run out. As a last resort it hides
// large overlays with CSS. Runs inside an active chromedp context.
func (d *Dismisser) DismissAll(ctx context.Context) DismissResult {
	var result DismissResult

	for attempt := 0; attempt < d.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1

		if provider := d.dismissCMPs(ctx); provider != "" {
			result.CMPDismissed = true
			result.MethodsUsed = append(result.MethodsUsed, "cmp_"+provider)
		}

		if d.dismissNewsletterModals(ctx) {
			result.NewsletterDismissed = true
			result.MethodsUsed = append(result.MethodsUsed, "newsletter_modal")
		}

		if err := chromedp.KeyEvent(kb.Escape).Do(ctx); err == nil {
			sleep(ctx, 300*time.Millisecond)
		}

		if d.obstructionRatio(ctx) < d.ObstructionThreshold {
			result.ObstructionCleared = true
			break
		}

		if attempt < d.MaxAttempts-1 {
			sleep(ctx, 500*time.Millisecond)
		}
	}

	if !result.ObstructionCleared {
		if d.hideStubbornOverlays(ctx) {
			result.MethodsUsed = append(result.MethodsUsed, "css_hide")
			result.ObstructionCleared = true
		}
	}

	return result
}

// DismissAgeGates clicks a known age-gate confirmation button once. Separate
// from DismissAll because a wrong click here can navigate away.
func (d *Dismisser) DismissAgeGates(ctx context.Context) bool {
	script := fmt.Sprintf(`
		(() => {
			const texts = %s;
			const candidates = document.querySelectorAll("button, [class*='age'] button, [id*='age'] button");
			for (const btn of candidates) {
				const t = (btn.textContent || '').trim().toLowerCase();
				if (texts.includes(t) && btn.offsetParent !== null) {
					btn.click();
					return true;
				}
			}
			return false;
		})()`, mustJSON(ageGateTexts))

	var clicked bool
	if err := chromedp.Evaluate(script, &clicked).Do(ctx); err != nil {
		return false
	}
	if clicked {
		sleep(ctx, time.Second)
	}
	return clicked
}

func (d *Dismisser) dismissCMPs(ctx context.Context) string {
	for _, provider := range cmpProviders {
		script := fmt.Sprintf(`
			(() => {
				if (!document.querySelector(%q)) return false;
				const btn = document.querySelector(%q);
				if (btn && btn.offsetParent !== null) {
					btn.click();
					return true;
				}
				return false;
			})()`, provider.Banner, provider.Accept)

		var clicked bool
		if err := chromedp.Evaluate(script, &clicked).Do(ctx); err != nil {
			continue
		}
		if clicked {
			sleep(ctx, 500*time.Millisecond)
			slog.Debug("Dismissed CMP banner", "provider", provider.Name)
			return provider.Name
		}
	}

	script := fmt.Sprintf(`
		(() => {
			const texts = %s;
			const buttons = document.querySelectorAll("button, [role='button']");
			for (const btn of buttons) {
				const t = (btn.textContent || '').trim().toLowerCase();
				if (texts.includes(t) && btn.offsetParent !== null) {
					btn.click();
					return true;
				}
			}
			return false;
		})()`, mustJSON(genericAcceptTexts))

	var clicked bool
	if err := chromedp.Evaluate(script, &clicked).Do(ctx); err == nil && clicked {
		sleep(ctx, 500*time.Millisecond)
		return "generic"
	}
	return ""
}

func (d *Dismisser) dismissNewsletterModals(ctx context.Context) bool {
	script := fmt.Sprintf(`
		(() => {
			const selectors = %s;
			const texts = %s;
			let dismissed = false;
			for (const sel of selectors) {
				const buttons = document.querySelectorAll(sel);
				let clicks = 0;
				for (const btn of buttons) {
					if (clicks >= 3) break;
					try { btn.click(); dismissed = true; clicks++; } catch (e) {}
				}
			}
			const all = document.querySelectorAll("button, a, [role='button'], span");
			for (const el of all) {
				const t = (el.textContent || '').trim().toLowerCase();
				if (texts.includes(t)) {
					try { el.click(); dismissed = true; break; } catch (e) {}
				}
			}
			return dismissed;
		})()`, mustJSON(newsletterCloseSelectors), mustJSON(newsletterCloseTexts))

	var dismissed bool
	if err := chromedp.Evaluate(script, &dismissed).Do(ctx); err != nil {
		return false
	}
	if dismissed {
		sleep(ctx, 300*time.Millisecond)
	}
	return dismissed
}

// obstructionRatio samples a 10x10 grid of viewport points and reports the
// fraction covered by fixed/absolute elements with z-index above 100.
func (d *Dismisser) obstructionRatio(ctx context.Context) float64 {
	const script = `
		(() => {
			const gridSize = 10;
			let obstructed = 0, total = 0;
			for (let x = 0; x < gridSize; x++) {
				for (let y = 0; y < gridSize; y++) {
					const px = (x / gridSize) * window.innerWidth;
					const py = (y / gridSize) * window.innerHeight;
					const el = document.elementFromPoint(px, py);
					if (el) {
						const style = window.getComputedStyle(el);
						const zIndex = parseInt(style.zIndex) || 0;
						if ((style.position === 'fixed' || style.position === 'absolute') && zIndex > 100) {
							obstructed++;
						}
					}
					total++;
				}
			}
			return obstructed / total;
		})()`

	var ratio float64
	if err := chromedp.Evaluate(script, &ratio).Do(ctx); err != nil {
		return 0
	}
	return ratio
}

// hideStubbornOverlays CSS-hides fixed/absolute elements covering more than
// half of the viewport in both dimensions. Destructive for the DOM, so only
// used after click-based dismissal has given up.
func (d *Dismisser) hideStubbornOverlays(ctx context.Context) bool {
	const script = `
		(() => {
			const overlays = Array.from(document.querySelectorAll('*')).filter(el => {
				const style = window.getComputedStyle(el);
				const zIndex = parseInt(style.zIndex) || 0;
				const rect = el.getBoundingClientRect();
				return (style.position === 'fixed' || style.position === 'absolute') &&
					zIndex > 100 &&
					rect.width > window.innerWidth * 0.5 &&
					rect.height > window.innerHeight * 0.5;
			});
			overlays.forEach(el => { el.style.display = 'none'; });
			return overlays.length > 0;
		})()`

	var hidden bool
	if err := chromedp.Evaluate(script, &hidden).Do(ctx); err != nil {
		return false
	}
	return hidden
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
