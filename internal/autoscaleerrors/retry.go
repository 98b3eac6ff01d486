package autoscaleerrors

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTransientRetryAttempts and DefaultTransientRetryBackoff bound the
// generic transient-I/O retry wrapper below. Every component that talks
// directly to a platform.Adapter wraps each call in it, the same way
// election's waiter and license's race-retry loop already bound themselves
// against the Proxy Adapter's clock (§7).
const (
	DefaultTransientRetryAttempts = 3
	DefaultTransientRetryBackoff  = 250 * time.Millisecond
)

// Retry runs fn, retrying while it returns an error matching ErrTransientIO,
// up to attempts total calls, backing off via a rate.Limiter between
// attempts. Any other error, or a transient error on the final attempt, is
// returned as-is — per §7 the dispatcher surfaces it as a 500.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	limiter := rate.NewLimiter(rate.Every(backoff), 1)
	limiter.Allow() // spend the initial token so the first retry also waits
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrTransientIO) {
			return err
		}
		if attempt+1 >= attempts {
			break
		}
		if werr := limiter.Wait(ctx); werr != nil {
			return werr
		}
	}
	return err
}

// RetryValue is Retry for calls that also return a value, sparing callers
// the trouble of hoisting a var out of the closure themselves.
func RetryValue[T any](ctx context.Context, attempts int, backoff time.Duration, fn func() (T, error)) (T, error) {
	var result T
	err := Retry(ctx, attempts, backoff, func() error {
		v, err := fn()
		result = v
		return err
	})
	return result, err
}
