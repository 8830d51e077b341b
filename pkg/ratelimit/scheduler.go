package ratelimit

import (
	"context"
	"fmt"
	"time"

	"mastogone/pkg/logger"
	"mastogone/pkg/retry"
)

// State is the scheduler's throttling state
type State int

const (
	// StateNormal means deletions may proceed
	StateNormal State = iota
	// StateCooling means the caller is blocked in a cooldown
	StateCooling
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateCooling:
		return "cooling"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reason says why a cooldown happened
type Reason string

const (
	// ReasonBatch is proactive: the batch quota was used up
	ReasonBatch Reason = "batch"
	// ReasonThrottled is reactive: the server answered 429
	ReasonThrottled Reason = "throttled"
)

// Sleeper blocks for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Event describes one cooldown, reported before the sleep starts
type Event struct {
	Reason   Reason
	Duration time.Duration
	Until    time.Time
	// Deleted is the counter value when the cooldown began
	Deleted int
}

// Scheduler keeps deletions under the instance quota. It counts deletions
// since the last pause and blocks for a full window once the batch is used
// up, or immediately when the server reports throttling.
//
// Scheduler is not safe for concurrent use; deletions are sequential.
type Scheduler struct {
	batchSize int
	cooldown  time.Duration

	count int
	state State
	until time.Time
	stats Stats

	sleep    Sleeper
	now      func() time.Time
	log      logger.Logger
	observer func(Event)
}

// Stats counts completed cooldowns by reason
type Stats struct {
	BatchPauses    int
	ThrottlePauses int
	TotalCooldown  time.Duration
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithSleeper replaces the real timer, used by tests
func WithSleeper(s Sleeper) Option {
	return func(sc *Scheduler) { sc.sleep = s }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(sc *Scheduler) { sc.now = now }
}

// WithLogger sets the logger used for cooldown messages
func WithLogger(l logger.Logger) Option {
	return func(sc *Scheduler) { sc.log = l }
}

// WithObserver registers a callback fired when a cooldown begins
func WithObserver(fn func(Event)) Option {
	return func(sc *Scheduler) { sc.observer = fn }
}

// New creates a scheduler pausing for cooldown after every batchSize deletions
func New(batchSize int, cooldown time.Duration, opts ...Option) (*Scheduler, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}
	if cooldown <= 0 {
		return nil, fmt.Errorf("cooldown must be positive, got %s", cooldown)
	}

	s := &Scheduler{
		batchSize: batchSize,
		cooldown:  cooldown,
		sleep:     retry.Sleep,
		now:       time.Now,
		log:       logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RecordAttempt counts one successful deletion
func (s *Scheduler) RecordAttempt() {
	s.count++
}

// ShouldPause reports whether the batch is used up
func (s *Scheduler) ShouldPause() bool {
	return s.count >= s.batchSize
}

// Pause blocks for the cooldown window and resets the counter
func (s *Scheduler) Pause(ctx context.Context) error {
	return s.cool(ctx, ReasonBatch)
}

// Cooldown blocks for the full window after the server refused a request.
// It runs regardless of the counter.
func (s *Scheduler) Cooldown(ctx context.Context) error {
	return s.cool(ctx, ReasonThrottled)
}

func (s *Scheduler) cool(ctx context.Context, reason Reason) error {
	if s.state == StateCooling {
		return fmt.Errorf("cooldown already in progress")
	}

	ev := Event{
		Reason:   reason,
		Duration: s.cooldown,
		Until:    s.now().Add(s.cooldown),
		Deleted:  s.count,
	}

	s.state = StateCooling
	s.until = ev.Until
	defer func() {
		s.state = StateNormal
		s.until = time.Time{}
	}()

	logger.LogRateLimit(s.log.WithFields(map[string]interface{}{
		"deleted_in_window": ev.Deleted,
		"resume_at":         ev.Until.Format(time.RFC3339),
	}), string(reason), s.cooldown)
	if s.observer != nil {
		s.observer(ev)
	}

	if err := s.sleep(ctx, s.cooldown); err != nil {
		return fmt.Errorf("cooldown interrupted: %w", err)
	}

	s.count = 0
	s.stats.TotalCooldown += s.cooldown
	switch reason {
	case ReasonBatch:
		s.stats.BatchPauses++
	case ReasonThrottled:
		s.stats.ThrottlePauses++
	}
	return nil
}

// State returns the current throttling state
func (s *Scheduler) State() State {
	return s.state
}

// Count returns deletions recorded since the last cooldown
func (s *Scheduler) Count() int {
	return s.count
}

// BatchSize returns the configured batch size
func (s *Scheduler) BatchSize() int {
	return s.batchSize
}

// ResumeAt returns when the current cooldown ends, zero when not cooling
func (s *Scheduler) ResumeAt() time.Time {
	return s.until
}

// Stats returns completed cooldown counts
func (s *Scheduler) Stats() Stats {
	return s.stats
}
