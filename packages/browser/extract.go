package browser

import (
	"context"
	"sort"

	"brandspy/packages/domain"

	"github.com/chromedp/chromedp"
)

const (
	minImageDimension = 150
	maxProductImages  = 8
)

// extractScript pulls every text feature and the raw product-image candidates
// in one evaluate call. Candidates come from two strategies: img tags measured
// by natural size, and CSS background-image urls measured by rendered rect.
// Filtering, ranking and capping happen in selectImages.
const extractScript = `
	(() => {
		const result = {
			nav_text: [],
			heading_text: [],
			link_text: [],
			cta_text: [],
			image_candidates: [],
			html_length: document.documentElement.outerHTML.length
		};

		for (const sel of ['nav', 'header', "[role='navigation']"]) {
			for (const region of document.querySelectorAll(sel)) {
				for (const link of region.querySelectorAll('a')) {
					const text = link.textContent.trim().toLowerCase();
					if (text && text.length > 2 && text.length < 100) {
						result.nav_text.push(text);
					}
				}
			}
		}

		for (const h of document.querySelectorAll('h1, h2, h3')) {
			const text = h.textContent.trim().toLowerCase();
			if (text && text.length > 3) {
				result.heading_text.push(text);
			}
		}

		for (const link of Array.from(document.querySelectorAll('a')).slice(0, 100)) {
			const text = link.textContent.trim().toLowerCase();
			if (text && text.length > 2) {
				result.link_text.push(text);
			}
		}

		for (const cta of Array.from(document.querySelectorAll("button, [class*='btn'], [class*='cta']")).slice(0, 20)) {
			const text = cta.textContent.trim().toLowerCase();
			if (text && text.length > 2 && text.length < 50) {
				result.cta_text.push(text);
			}
		}

		for (const img of document.querySelectorAll('img')) {
			if (img.src && img.src.startsWith('http')) {
				result.image_candidates.push({
					url: img.src,
					width: img.naturalWidth,
					height: img.naturalHeight
				});
			}
			if (result.image_candidates.length >= 40) break;
		}

		for (const el of document.querySelectorAll("div, section, a, figure, li, header")) {
			const bg = window.getComputedStyle(el).backgroundImage;
			if (!bg || bg === 'none') continue;
			const m = bg.match(/url\(["']?(https?:\/\/[^"')]+)["']?\)/);
			if (!m) continue;
			const rect = el.getBoundingClientRect();
			result.image_candidates.push({url: m[1], width: rect.width, height: rect.height});
			if (result.image_candidates.length >= 60) break;
		}

		result.nav_text = [...new Set(result.nav_text)];
		result.heading_text = [...new Set(result.heading_text)];
		result.link_text = [...new Set(result.link_text)];
		result.cta_text = [...new Set(result.cta_text)];

		return result;
	})()`

type imageCandidate struct {
	URL    string  `json:"url"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type extractedFeatures struct {
	NavText         []string         `json:"nav_text"`
	HeadingText     []string         `json:"heading_text"`
	LinkText        []string         `json:"link_text"`
	CTAText         []string         `json:"cta_text"`
	ImageCandidates []imageCandidate `json:"image_candidates"`
	HTMLLength      int              `json:"html_length"`
}

// selectImages keeps candidates large enough to be product shots rather than
// icons, deduplicates by url, ranks by rendered area and caps the result.
func selectImages(candidates []imageCandidate) []string {
	kept := make([]imageCandidate, 0, len(candidates))
	seen := make(map[string]struct{})
	for _, c := range candidates {
		if c.Width < minImageDimension || c.Height < minImageDimension {
			continue
		}
		if _, ok := seen[c.URL]; ok {
			continue
		}
		seen[c.URL] = struct{}{}
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Width*kept[i].Height > kept[j].Width*kept[j].Height
	})
	if len(kept) > maxProductImages {
		kept = kept[:maxProductImages]
	}

	urls := make([]string, len(kept))
	for i, c := range kept {
		urls[i] = c.URL
	}
	return urls
}

func extractFeatures(ctx context.Context, outcome *domain.FetchOutcome) error {
	var extracted extractedFeatures
	if err := chromedp.Evaluate(extractScript, &extracted).Do(ctx); err != nil {
		return err
	}
	outcome.NavText = extracted.NavText
	outcome.HeadingText = extracted.HeadingText
	outcome.LinkText = extracted.LinkText
	outcome.CTAText = extracted.CTAText
	outcome.ImageURLs = selectImages(extracted.ImageCandidates)
	return nil
}
