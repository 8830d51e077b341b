package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "mastogone/pkg/errors"
)

// recordSleep captures requested delays without blocking
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &Exponential{
		Initial: 100 * time.Millisecond,
		Max:     1 * time.Second,
		Factor:  2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{9, 1 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, backoff.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoffJitterStaysInRange(t *testing.T) {
	backoff := &Exponential{
		Initial: 100 * time.Millisecond,
		Max:     1 * time.Second,
		Factor:  2.0,
		Jitter:  0.3,
	}

	for i := 0; i < 50; i++ {
		d := backoff.NextDelay(2)
		assert.GreaterOrEqual(t, d, 140*time.Millisecond)
		assert.LessOrEqual(t, d, 260*time.Millisecond)
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	var delays []time.Duration
	attempts := 0

	err := Do(context.Background(), Policy{
		Attempts: 5,
		Backoff:  &Constant{Delay: time.Second},
		Sleep:    recordSleep(&delays),
	}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errs.New(errs.ErrorTypeServerError, 502, "bad gateway")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, delays)
}

func TestDoGivesUpWithoutFinalWait(t *testing.T) {
	var delays []time.Duration
	attempts := 0
	cause := errs.New(errs.ErrorTypeNetwork, 0, "connection reset")

	err := Do(context.Background(), Policy{
		Attempts: 3,
		Backoff:  &Constant{Delay: time.Millisecond},
		Sleep:    recordSleep(&delays),
	}, func(context.Context) error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Equal(t, 3, attempts)
	assert.Len(t, delays, 2)
}

func TestDoSingleAttempt(t *testing.T) {
	attempts := 0
	cause := errors.New("transient")

	err := Do(context.Background(), Policy{}, func(context.Context) error {
		attempts++
		return cause
	})

	assert.Same(t, cause, err)
	assert.Equal(t, 1, attempts)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	for _, typ := range []errs.ErrorType{errs.ErrorTypeAuth, errs.ErrorTypeForbidden, errs.ErrorTypeNotFound} {
		t.Run(string(typ), func(t *testing.T) {
			attempts := 0
			want := errs.New(typ, 0, "nope")

			err := Do(context.Background(), Policy{Attempts: 5, Backoff: &Constant{Delay: time.Millisecond}}, func(context.Context) error {
				attempts++
				return want
			})

			assert.Same(t, want, err)
			assert.Equal(t, 1, attempts)
		})
	}
}

func TestDoHonoursRetryAfter(t *testing.T) {
	var delays []time.Duration
	var retried []int
	attempts := 0

	err := Do(context.Background(), Policy{
		Attempts: 2,
		Backoff:  &Constant{Delay: time.Second},
		Sleep:    recordSleep(&delays),
		OnRetry:  func(attempt int, err error, d time.Duration) { retried = append(retried, attempt) },
	}, func(context.Context) error {
		attempts++
		if attempts == 1 {
			e := errs.New(errs.ErrorTypeRateLimit, 429, "slow down")
			e.RetryAfter = 45 * time.Second
			return e
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{45 * time.Second}, delays)
	assert.Equal(t, []int{1}, retried)
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Do(ctx, Policy{
		Attempts: 5,
		Backoff:  &Constant{Delay: 10 * time.Millisecond},
	}, func(context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, attempts)
}

func TestTransient(t *testing.T) {
	assert.False(t, Transient(nil))
	assert.False(t, Transient(context.Canceled))
	assert.True(t, Transient(errors.New("plain")))
	assert.True(t, Transient(errs.New(errs.ErrorTypeRateLimit, 429, "x")))
	assert.False(t, Transient(errs.New(errs.ErrorTypeAuth, 401, "x")))
}

func TestValue(t *testing.T) {
	attempts := 0
	result, err := Value(context.Background(), Policy{
		Attempts: 3,
		Backoff:  &Constant{Delay: time.Millisecond},
	}, func(context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("temporary error")
		}
		return "page", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "page", result)
	assert.Equal(t, 2, attempts)
}

func TestDefaultPageBackoffIsCapped(t *testing.T) {
	b := DefaultPageBackoff()
	for attempt := 1; attempt < 20; attempt++ {
		assert.LessOrEqual(t, b.NextDelay(attempt), b.Max+b.Max/10)
	}
	assert.Zero(t, (&Constant{Delay: time.Second}).NextDelay(0))
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}
