package firecrawl

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarkdownExtractsHeadingsAndLinkLabels(t *testing.T) {
	markdown := `# Lingerie Boutique
Some intro text with a [Shop Bras](https://example.com/bras) link.

## New Arrivals
- [Sleepwear](https://example.com/sleep)
- [Swimwear](https://example.com/swim)

### FAQ
`

	nav, headings := ParseMarkdown(markdown)

	assert.Equal(t, []string{"shop bras", "sleepwear", "swimwear"}, nav)
	assert.Equal(t, []string{"lingerie boutique", "new arrivals", "faq"}, headings)
}

func TestParseMarkdownDeduplicatesPreservingOrder(t *testing.T) {
	markdown := `[Bras](https://a.example)
[Lingerie](https://b.example)
[Bras](https://c.example)
# Sale
# Sale
`

	nav, headings := ParseMarkdown(markdown)

	assert.Equal(t, []string{"bras", "lingerie"}, nav)
	assert.Equal(t, []string{"sale"}, headings)
}

func TestParseMarkdownBoundsLengths(t *testing.T) {
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}
	markdown := "# ab\n# " + string(long) + "\n[ok link](https://a.example)\n[x](https://b.example)\n"

	nav, headings := ParseMarkdown(markdown)

	assert.Equal(t, []string{"ok link"}, nav, "too-short labels are dropped")
	assert.Empty(t, headings, "headings outside 2-100 chars are dropped")
}

func TestParseMarkdownCaps(t *testing.T) {
	var markdown string
	for i := 0; i < 200; i++ {
		markdown += "[item number " + string(rune('a'+i%26)) + string(rune('a'+(i/26)%26)) + string(rune('a'+i%10)) + "](https://example.com)\n"
	}

	nav, _ := ParseMarkdown(markdown)

	assert.LessOrEqual(t, len(nav), maxNavItems)
}

func TestFetchParsesSuccessfulScrape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/scrape", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req scrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com", req.URL)
		assert.Equal(t, []string{"markdown", "html", "screenshot"}, req.Formats)
		assert.Equal(t, 3000, req.WaitFor)
		assert.Equal(t, 30000, req.Timeout)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"markdown": "# Lingerie Shop\n[Bras](https://example.com/bras)",
			},
		})
	}))
	defer server.Close()

	client := New(server.URL, "test-key", 3*time.Second, 30*time.Second)
	outcome := client.Fetch(t.Context(), "example.com")

	assert.True(t, outcome.Success)
	assert.Equal(t, []string{"bras"}, outcome.NavText)
	assert.Equal(t, []string{"lingerie shop"}, outcome.HeadingText)
}

func TestFetchNon200IsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	client := New(server.URL, "test-key", 3*time.Second, 30*time.Second)
	outcome := client.Fetch(t.Context(), "example.com")

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "402")
}

func TestFetchAPIReportedFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "target blocked the request",
		})
	}))
	defer server.Close()

	client := New(server.URL, "test-key", 3*time.Second, 30*time.Second)
	outcome := client.Fetch(t.Context(), "example.com")

	assert.False(t, outcome.Success)
	assert.Equal(t, "target blocked the request", outcome.Error)
}

func TestFetchFallsBackToHTMLHeadings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"html": "<html><body><h1>Lingerie Shop</h1><h2>New Arrivals</h2></body></html>",
			},
		})
	}))
	defer server.Close()

	client := New(server.URL, "test-key", 3*time.Second, 30*time.Second)
	outcome := client.Fetch(t.Context(), "example.com")

	assert.True(t, outcome.Success)
	assert.Equal(t, []string{"lingerie shop", "new arrivals"}, outcome.HeadingText)
}
