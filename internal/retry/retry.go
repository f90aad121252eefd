// Package retry runs collaborator calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"github.com/dgallion1/docreduce/internal/llm"
)

const MaxRetries = 3

// Policy bounds how often and how long a call is retried.
type Policy struct {
	MaxRetries int           // Total attempts, including the first.
	BaseDelay  time.Duration // Delay before the second attempt.
	MaxDelay   time.Duration // Cap on any single delay, before jitter.

	// OnRetry, when set, is called before sleeping between attempts.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy is three attempts starting at one second, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *llm.RetryableError
	if errors.As(err, &retryErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	base := p.BaseDelay << uint(min(attempt, 30))
	if p.MaxDelay > 0 && (base > p.MaxDelay || base <= 0) {
		base = p.MaxDelay
	}
	if half := int64(base) / 2; half > 0 {
		base += time.Duration(rand.Int64N(half))
	}
	return base
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. The last error is returned.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(p.MaxRetries, 1)
	var (
		out     T
		lastErr error
	)
	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out, lastErr = fn(ctx)
		if lastErr == nil || !IsRetryable(lastErr) || attempt == attempts-1 {
			return out, lastErr
		}
		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, wait)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, lastErr
}
