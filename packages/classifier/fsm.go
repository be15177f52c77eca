package classifier

import "brandspy/packages/domain"

// State names the position of one domain inside the escalation pipeline.
type State string

const (
	StateHTTP     State = "HTTP"
	StateBrowser  State = "BROWSER"
	StateFallback State = "FALLBACK"
	StateScoring  State = "SCORING"
	StateDone     State = "DONE"
	StateError    State = "ERROR"
)

// minNavTermsForHTTP is the evidence bar the cheap stage must clear to avoid
// escalating to the browser.
const minNavTermsForHTTP = 5

// NextAfterHTTP accepts the HTTP outcome only when the page both loaded and
// yielded enough distinct navigation terms to score from.
func NextAfterHTTP(o *domain.FetchOutcome) State {
	if o.Success && distinctCount(o.NavText) >= minNavTermsForHTTP {
		return StateScoring
	}
	return StateBrowser
}

// NextAfterBrowser escalates to the paid fallback only when the browser left
// us with nothing usable and a fallback is configured.
func NextAfterBrowser(o *domain.FetchOutcome, fallbackConfigured bool) State {
	if o.Usable() {
		return StateScoring
	}
	if fallbackConfigured {
		return StateFallback
	}
	return StateError
}

// NextAfterFallback is the last fetch transition: either we have something to
// score or the pipeline is exhausted.
func NextAfterFallback(o *domain.FetchOutcome) State {
	if o.Usable() {
		return StateScoring
	}
	return StateError
}

func distinctCount(items []string) int {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		seen[item] = struct{}{}
	}
	return len(seen)
}
