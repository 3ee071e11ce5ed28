package fetch

import (
	"context"
	"math/rand"
	"time"

	"github.com/hackforge/cachekit/pkg/pool"
)

const defaultRetryDelay = time.Millisecond * 200

// WithRetry wraps f so a failure is retried up to maxRetries times with
// doubling delay plus jitter. The context is respected between attempts;
// on cancellation the last fetch error is returned if there is one,
// otherwise the context error.
func WithRetry(f Fetcher, maxRetries int, baseDelay time.Duration) Fetcher {
	if baseDelay <= 0 {
		baseDelay = defaultRetryDelay
	}

	return func(ctx context.Context) ([]byte, error) {
		var lastErr error
		delay := baseDelay

		for attempt := 0; ; attempt++ {
			v, err := f(ctx)
			if err == nil {
				return v, nil
			}
			lastErr = err

			if attempt >= maxRetries {
				return nil, lastErr
			}

			wait := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
			delay *= 2

			timer := pool.GetTimer(wait)
			select {
			case <-ctx.Done():
				pool.ReleaseTimer(timer)
				return nil, lastErr
			case <-timer.C:
				pool.ReleaseTimer(timer)
			}
		}
	}
}
