package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "mastogone/pkg/errors"
	"mastogone/pkg/logger"
)

// Policy says how often and how patiently to retry
type Policy struct {
	// Attempts is the total number of calls, first one included. Zero means one.
	Attempts int
	Backoff  BackoffStrategy
	// Retryable decides whether an error is worth another call. Defaults to Transient.
	Retryable func(error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep waits between calls. Defaults to Sleep.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger logger.Logger
}

// Transient reports whether err may go away on its own: network trouble,
// throttling and 5xx answers. Auth, forbidden and not-found never do.
func Transient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		return errs.IsRetryable(apiErr.Type)
	}
	return true
}

// waitFor prefers a server Retry-After hint when it asks for longer
func waitFor(err error, backoff time.Duration) time.Duration {
	var apiErr *errs.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > backoff {
		return apiErr.RetryAfter
	}
	return backoff
}

// Do calls op until it succeeds, fails permanently, or the attempts run
// out. There is no wait after the last attempt. The final error wraps the
// last failure.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations that produce a result
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(p.Attempts, 1)
	retryable := p.Retryable
	if retryable == nil {
		retryable = Transient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = DefaultPageBackoff()
	}
	log := p.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("Succeeded after retry", map[string]interface{}{"attempt": attempt})
			}
			return v, nil
		}
		if !retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			if attempts > 1 {
				return zero, fmt.Errorf("giving up after %d attempts: %w", attempts, err)
			}
			return zero, err
		}

		delay := waitFor(err, backoff.NextDelay(attempt))
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		log.WithError(err).WarnWithFields("Retrying", map[string]interface{}{
			"attempt":  attempt,
			"of":       attempts,
			"delay_ms": delay.Milliseconds(),
		})

		if serr := sleep(ctx, delay); serr != nil {
			return zero, fmt.Errorf("retry cancelled: %w", serr)
		}
	}
}
