// Package httpfetch implements the cheapest fetch stage: a plain HTTP GET of
// the homepage with no JS execution, parsed for navigation and heading text.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"brandspy/packages/domain"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxNavRegions    = 3
	maxLinksPerNav   = 50
	maxHeadings      = 10
	maxRawLinks      = 100
	maxCTAs          = 20
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type Fetcher struct {
	client *http.Client
}

func New(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch tries https://domain then http://domain in one session, returning as
// soon as either yields HTTP 200. Both schemes failing produces a non-success
// outcome carrying the first error observed.
func (f *Fetcher) Fetch(ctx context.Context, dom string) *domain.FetchOutcome {
	outcome := &domain.FetchOutcome{}

	for _, rawURL := range []string{"https://" + dom, "http://" + dom} {
		slog.Debug("HTTP fetch", "url", rawURL)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			if outcome.Error == "" {
				outcome.Error = err.Error()
			}
			continue
		}
		req.Header.Set("User-Agent", defaultUserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := f.client.Do(req)
		if err != nil {
			if outcome.Error == "" {
				outcome.Error = err.Error()
			}
			continue
		}

		outcome.HTTPStatus = resp.StatusCode
		outcome.FinalURL = resp.Request.URL.String()

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			if outcome.Error == "" {
				outcome.Error = fmt.Sprintf("bad status code: %d", resp.StatusCode)
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			if outcome.Error == "" {
				outcome.Error = err.Error()
			}
			continue
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
		if err != nil {
			if outcome.Error == "" {
				outcome.Error = err.Error()
			}
			continue
		}

		parseDocument(doc, outcome)
		outcome.Success = true
		outcome.Error = ""
		slog.Debug("HTTP fetch successful", "domain", dom,
			"nav_items", len(outcome.NavText), "headings", len(outcome.HeadingText))
		return outcome
	}

	slog.Debug("HTTP fetch failed on both schemes", "domain", dom, "error", outcome.Error)
	return outcome
}

func parseDocument(doc *goquery.Document, outcome *domain.FetchOutcome) {
	navSeen := make(map[string]struct{})
	doc.Find("nav, header, [role='navigation']").EachWithBreak(func(i int, nav *goquery.Selection) bool {
		if i >= maxNavRegions {
			return false
		}
		nav.Find("a").EachWithBreak(func(j int, link *goquery.Selection) bool {
			if j >= maxLinksPerNav {
				return false
			}
			text := strings.ToLower(strings.TrimSpace(link.Text()))
			if len(text) > 2 && len(text) < 100 {
				if _, ok := navSeen[text]; !ok {
					navSeen[text] = struct{}{}
					outcome.NavText = append(outcome.NavText, text)
				}
			}
			return true
		})
		return true
	})

	doc.Find("h1, h2, h3").EachWithBreak(func(i int, h *goquery.Selection) bool {
		if i >= maxHeadings {
			return false
		}
		text := strings.ToLower(strings.TrimSpace(h.Text()))
		if len(text) > 3 {
			outcome.HeadingText = append(outcome.HeadingText, text)
		}
		return true
	})

	doc.Find("a[href]").EachWithBreak(func(i int, link *goquery.Selection) bool {
		if i >= maxRawLinks {
			return false
		}
		text := strings.ToLower(strings.TrimSpace(link.Text()))
		if len(text) > 2 {
			outcome.LinkText = append(outcome.LinkText, text)
		}
		return true
	})

	doc.Find("button, [class*='btn'], [class*='cta']").EachWithBreak(func(i int, cta *goquery.Selection) bool {
		if i >= maxCTAs {
			return false
		}
		text := strings.ToLower(strings.TrimSpace(cta.Text()))
		if len(text) > 2 && len(text) < 50 {
			outcome.CTAText = append(outcome.CTAText, text)
		}
		return true
	})
}
