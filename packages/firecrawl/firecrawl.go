// Package firecrawl is the paid fallback fetch stage. It delegates rendering
// and bot bypass to the Firecrawl scrape API and mines the returned markdown
// for navigation and heading candidates.
package firecrawl

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"brandspy/packages/domain"

	"github.com/PuerkitoBio/goquery"
	"resty.dev/v3"
)

const (
	maxNavItems = 150
	maxHeadings = 20
)

var linkLabelRe = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
	// Full page is needed for nav extraction, not just the main content block.
	OnlyMainContent bool `json:"onlyMainContent"`
	WaitFor         int  `json:"waitFor"`
	Timeout         int  `json:"timeout"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown   string `json:"markdown"`
		HTML       string `json:"html"`
		Screenshot string `json:"screenshot"`
	} `json:"data"`
}

type Client struct {
	http    *resty.Client
	waitFor time.Duration
	timeout time.Duration
}

func New(baseURL, apiKey string, waitFor, timeout time.Duration) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60*time.Second).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")

	return &Client{http: http, waitFor: waitFor, timeout: timeout}
}

// Fetch performs a single scrape call. It is a best-effort paid call and is
// never retried: any non-200 response or API-reported failure is terminal for
// this stage.
func (c *Client) Fetch(ctx context.Context, dom string) *domain.FetchOutcome {
	outcome := &domain.FetchOutcome{}

	var parsed scrapeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(scrapeRequest{
			URL:     "https://" + dom,
			Formats: []string{"markdown", "html", "screenshot"},
			WaitFor: int(c.waitFor.Milliseconds()),
			Timeout: int(c.timeout.Milliseconds()),
		}).
		SetResult(&parsed).
		Post("/scrape")
	if err != nil {
		outcome.Error = truncate(err.Error(), 200)
		slog.Warn("Firecrawl request failed", "domain", dom, "error", err)
		return outcome
	}

	if resp.StatusCode() != 200 {
		outcome.Error = fmt.Sprintf("firecrawl api error: %d", resp.StatusCode())
		slog.Warn("Firecrawl non-200 response", "domain", dom, "status", resp.StatusCode())
		return outcome
	}

	if !parsed.Success {
		outcome.Error = parsed.Error
		if outcome.Error == "" {
			outcome.Error = "unknown firecrawl error"
		}
		return outcome
	}

	if parsed.Data.Markdown != "" {
		nav, headings := ParseMarkdown(parsed.Data.Markdown)
		outcome.NavText = nav
		outcome.HeadingText = headings
	} else if parsed.Data.HTML != "" {
		parseHTMLHeadings(parsed.Data.HTML, outcome)
	}

	outcome.Success = true
	slog.Info("Firecrawl fetch successful", "domain", dom,
		"nav_items", len(outcome.NavText), "headings", len(outcome.HeadingText))
	return outcome
}

// ParseMarkdown extracts heading lines and inline link labels from Firecrawl
// markdown, deduplicated in first-seen order and capped.
func ParseMarkdown(markdown string) (navText, headingText []string) {
	navSeen := make(map[string]struct{})
	headingSeen := make(map[string]struct{})

	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, "#") {
			heading := strings.ToLower(strings.TrimSpace(strings.TrimLeft(line, "#")))
			if len(heading) > 2 && len(heading) < 100 {
				if _, ok := headingSeen[heading]; !ok {
					headingSeen[heading] = struct{}{}
					headingText = append(headingText, heading)
				}
			}
		}

		for _, match := range linkLabelRe.FindAllStringSubmatch(line, -1) {
			text := strings.ToLower(strings.TrimSpace(match[1]))
			if len(text) > 2 && len(text) < 100 {
				if _, ok := navSeen[text]; !ok {
					navSeen[text] = struct{}{}
					navText = append(navText, text)
				}
			}
		}
	}

	if len(navText) > maxNavItems {
		navText = navText[:maxNavItems]
	}
	if len(headingText) > maxHeadings {
		headingText = headingText[:maxHeadings]
	}
	return navText, headingText
}

func parseHTMLHeadings(html string, outcome *domain.FetchOutcome) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return
	}
	doc.Find("h1, h2, h3").EachWithBreak(func(i int, h *goquery.Selection) bool {
		if i >= maxHeadings {
			return false
		}
		text := strings.ToLower(strings.TrimSpace(h.Text()))
		if len(text) > 2 && len(text) < 100 {
			outcome.HeadingText = append(outcome.HeadingText, text)
		}
		return true
	})
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
