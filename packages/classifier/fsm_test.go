package classifier

import (
	"testing"

	"brandspy/packages/domain"

	"github.com/stretchr/testify/assert"
)

func TestNextAfterHTTP(t *testing.T) {
	tests := []struct {
		name    string
		outcome *domain.FetchOutcome
		want    State
	}{
		{
			name: "success with enough distinct nav terms",
			outcome: &domain.FetchOutcome{
				Success: true,
				NavText: []string{"a", "b", "c", "d", "e"},
			},
			want: StateScoring,
		},
		{
			name: "success but duplicated nav terms below the bar",
			outcome: &domain.FetchOutcome{
				Success: true,
				NavText: []string{"a", "a", "a", "b", "b", "c", "d"},
			},
			want: StateBrowser,
		},
		{
			name:    "success with no nav terms",
			outcome: &domain.FetchOutcome{Success: true},
			want:    StateBrowser,
		},
		{
			name:    "failure",
			outcome: &domain.FetchOutcome{Error: "bad status code: 403"},
			want:    StateBrowser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextAfterHTTP(tt.outcome))
		})
	}
}

func TestNextAfterBrowser(t *testing.T) {
	usable := &domain.FetchOutcome{Success: true, NavText: []string{"shop"}}
	screenshotOnly := &domain.FetchOutcome{Screenshot: []byte{0xff}}
	dead := &domain.FetchOutcome{Error: "all retries exhausted"}

	assert.Equal(t, StateScoring, NextAfterBrowser(usable, false))
	assert.Equal(t, StateScoring, NextAfterBrowser(screenshotOnly, false),
		"a screenshot alone is usable evidence")
	assert.Equal(t, StateFallback, NextAfterBrowser(dead, true))
	assert.Equal(t, StateError, NextAfterBrowser(dead, false))
}

func TestNextAfterFallback(t *testing.T) {
	usable := &domain.FetchOutcome{Success: true, HeadingText: []string{"lingerie"}}
	dead := &domain.FetchOutcome{Error: "firecrawl api error: 500"}

	assert.Equal(t, StateScoring, NextAfterFallback(usable))
	assert.Equal(t, StateError, NextAfterFallback(dead))
}
