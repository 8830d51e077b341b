package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// BackoffStrategy gives the wait before retry number attempt, counted from 1
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// Exponential grows the delay by Factor per attempt up to Max. Jitter
// spreads each delay by up to that fraction in either direction.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// DefaultPageBackoff is used between failed timeline page fetches
func DefaultPageBackoff() *Exponential {
	return &Exponential{
		Initial: 2 * time.Second,
		Max:     2 * time.Minute,
		Factor:  2,
		Jitter:  0.1,
	}
}

func (e *Exponential) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}

	d := float64(e.Initial)
	for i := 1; i < attempt && d < float64(e.Max); i++ {
		d *= e.Factor
	}
	if d > float64(e.Max) {
		d = float64(e.Max)
	}

	if e.Jitter > 0 {
		d *= 1 + e.Jitter*(2*rand.Float64()-1)
	}
	return max(time.Duration(d), 0)
}

// Constant waits the same Delay before every retry
type Constant struct {
	Delay time.Duration
}

func (c *Constant) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return c.Delay
}

// Sleep blocks for d or until ctx is done. It returns ctx.Err() when the
// context ended first, even for a zero d.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
