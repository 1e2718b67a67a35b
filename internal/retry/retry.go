// Package retry provides the one bounded-retry policy shared by the rule
// installer, the Telegram notifier, the batch search and the stream
// reconnect loop.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Policy describes a bounded retry loop. Delay receives the zero-based
// attempt number of the attempt that just failed. Retryable decides whether
// an error is worth another attempt; a nil Retryable retries everything.
type Policy struct {
	Name      string
	Attempts  int
	Delay     func(attempt int) time.Duration
	Retryable func(err error) bool
}

// Do runs op until it succeeds, the attempt budget is spent, the error is
// not retryable, or the context is cancelled. The last error is returned.
func (p Policy) Do(ctx context.Context, op func() error) error {
	var lastErr error

	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}

		if attempt == p.Attempts-1 {
			break
		}

		delay := p.Delay(attempt)
		logrus.Warnf("%s: attempt %d/%d failed: %v (retrying in %v)",
			p.Name, attempt+1, p.Attempts, lastErr, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s: all %d attempts failed: %w", p.Name, p.Attempts, lastErr)
}

// Fixed returns a constant delay between attempts.
func Fixed(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// ExponentialJitter returns base*2^attempt plus up to maxJitter of random
// jitter, matching the stream reconnect behaviour.
func ExponentialJitter(base, maxJitter time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		backoff := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
		if maxJitter <= 0 {
			return backoff
		}
		return backoff + time.Duration(rand.Int63n(int64(maxJitter)))
	}
}
