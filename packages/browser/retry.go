package browser

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"brandspy/packages/domain"
	"brandspy/packages/metrics"
)

// BackoffPolicy describes a retry ladder: exponential delay with jitter plus
// an early-stop predicate evaluated on each failed outcome.
type BackoffPolicy struct {
	Base        time.Duration
	Jitter      time.Duration
	MaxAttempts int
	StopEarly   func(*domain.FetchOutcome) bool
}

func DefaultBackoff(maxAttempts int) BackoffPolicy {
	return BackoffPolicy{
		Base:        time.Second,
		Jitter:      time.Second,
		MaxAttempts: maxAttempts,
		StopEarly:   IsChallenge,
	}
}

// Delay returns the wait before the given attempt. Attempt 0 starts at once;
// attempt n waits base*2^n plus up to Jitter of random slack.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := p.Base * time.Duration(1<<uint(attempt))
	if p.Jitter > 0 {
		delay += time.Duration(rand.Float64() * float64(p.Jitter))
	}
	return delay
}

// retryFetch drives any attempt function through the policy and returns the
// highest-quality outcome observed. A success returns immediately.
func retryFetch(ctx context.Context, policy BackoffPolicy, attemptFn func(attempt int) *domain.FetchOutcome) *domain.FetchOutcome {
	var best *domain.FetchOutcome

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if delay := policy.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return bestOrEmpty(best)
			case <-time.After(delay):
			}
		}

		outcome := attemptFn(attempt)
		if outcome.Success {
			return outcome
		}

		if best == nil || OutcomeQuality(outcome) > OutcomeQuality(best) {
			best = outcome
		}

		if policy.StopEarly != nil && policy.StopEarly(outcome) {
			break
		}
	}

	return bestOrEmpty(best)
}

// FetchWithRetries runs up to maxRetries browser attempts against a domain.
// Bot challenges stop the ladder: later attempts would hit the same wall and
// the challenge screenshot already carries the useful evidence.
func (f *Fetcher) FetchWithRetries(ctx context.Context, dom string, maxRetries int) *domain.FetchOutcome {
	policy := DefaultBackoff(maxRetries)

	return retryFetch(ctx, policy, func(attempt int) *domain.FetchOutcome {
		if attempt > 0 {
			slog.Debug("Browser retry", "domain", dom, "attempt", attempt+1)
		}
		outcome := f.Fetch(ctx, dom, attempt)
		if !outcome.Success {
			metrics.FetchFailures.WithLabelValues(domain.StageBrowser).Inc()
			if IsChallenge(outcome) {
				slog.Info("Challenge page detected, stopping browser retries", "domain", dom)
			}
		}
		return outcome
	})
}

// OutcomeQuality ranks failed attempts so the richest partial evidence wins:
// a screenshot outweighs any amount of text, text volume breaks ties.
func OutcomeQuality(o *domain.FetchOutcome) int {
	if o == nil {
		return 0
	}
	score := 0
	if o.Success {
		score += 100
	}
	if len(o.Screenshot) > 0 {
		score += 50
	}
	score += len(o.NavText)
	score += len(o.HeadingText)
	return score
}

func bestOrEmpty(best *domain.FetchOutcome) *domain.FetchOutcome {
	if best != nil {
		return best
	}
	return &domain.FetchOutcome{Error: "all retries exhausted"}
}
