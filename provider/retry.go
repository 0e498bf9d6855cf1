package provider

import (
	"context"
	"strings"
	"time"
)

// retryPolicy controls how transient provider failures are retried. Zero
// values fall back to defaultRetryPolicy.
type retryPolicy struct {
	RateLimitWaits   []time.Duration
	ServerErrorWaits []time.Duration
}

// Rate-limit waits are long on purpose: most providers meter per minute, so a
// short backoff just burns an attempt.
var defaultRetryPolicy = retryPolicy{
	RateLimitWaits:   []time.Duration{65 * time.Second, 100 * time.Second, 135 * time.Second},
	ServerErrorWaits: []time.Duration{5 * time.Second, 30 * time.Second, 60 * time.Second},
}

func (p retryPolicy) waitFor(err error, attempt int) (time.Duration, bool) {
	waits := p.RateLimitWaits
	if len(waits) == 0 {
		waits = defaultRetryPolicy.RateLimitWaits
	}
	if isRateLimitError(err) && attempt < len(waits) {
		return waits[attempt], true
	}
	waits = p.ServerErrorWaits
	if len(waits) == 0 {
		waits = defaultRetryPolicy.ServerErrorWaits
	}
	if isServerError(err) && attempt < len(waits) {
		return waits[attempt], true
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "500") ||
		strings.Contains(s, "502") ||
		strings.Contains(s, "503") ||
		strings.Contains(s, "internal server error") ||
		strings.Contains(s, "server_error")
}
