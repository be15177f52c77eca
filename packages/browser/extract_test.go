package browser

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectImagesFiltersIconsAndSortsByArea(t *testing.T) {
	candidates := []imageCandidate{
		{URL: "https://shop.example/icon.png", Width: 32, Height: 32},
		{URL: "https://shop.example/banner.jpg", Width: 1200, Height: 400},
		{URL: "https://shop.example/product.jpg", Width: 700, Height: 800},
		{URL: "https://shop.example/thumb.jpg", Width: 160, Height: 100},
	}

	urls := selectImages(candidates)

	assert.Equal(t, []string{
		"https://shop.example/product.jpg",
		"https://shop.example/banner.jpg",
	}, urls)
}

func TestSelectImagesMergesBackgroundCandidates(t *testing.T) {
	// img-tag and CSS background-image candidates arrive in one list and
	// compete on rendered area alone.
	candidates := []imageCandidate{
		{URL: "https://shop.example/img-tag.jpg", Width: 300, Height: 300},
		{URL: "https://shop.example/hero-bg.jpg", Width: 1920, Height: 600},
	}

	urls := selectImages(candidates)

	assert.Equal(t, []string{
		"https://shop.example/hero-bg.jpg",
		"https://shop.example/img-tag.jpg",
	}, urls)
}

func TestSelectImagesDeduplicatesAndCaps(t *testing.T) {
	var candidates []imageCandidate
	for i := 0; i < 12; i++ {
		candidates = append(candidates, imageCandidate{
			URL:    fmt.Sprintf("https://shop.example/p%d.jpg", i),
			Width:  float64(200 + i),
			Height: 300,
		})
	}
	candidates = append(candidates, candidates[0])

	urls := selectImages(candidates)

	assert.Len(t, urls, 8)
	assert.Equal(t, "https://shop.example/p11.jpg", urls[0], "largest rendered area ranks first")
	assert.NotContains(t, urls[1:], urls[0])
}

func TestSelectImagesEmptyInput(t *testing.T) {
	assert.Empty(t, selectImages(nil))
}
