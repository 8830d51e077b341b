package purge

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "mastogone/pkg/errors"
	"mastogone/pkg/filter"
	"mastogone/pkg/logger"
	"mastogone/pkg/mastodon"
	"mastogone/pkg/models"
	"mastogone/pkg/timeline"
)

var (
	// ErrAuthRejected aborts the run: the instance refused the token
	ErrAuthRejected = errors.New("authentication rejected by instance")
	// ErrUnreachable aborts the run: the instance could not be contacted
	ErrUnreachable = errors.New("instance unreachable")
	// ErrInterrupted means the run stopped early on request
	ErrInterrupted = errors.New("run interrupted")
)

// Source yields posts one at a time
type Source interface {
	Next(ctx context.Context) bool
	Post() *models.Post
	Err() error
}

// Filter decides whether a post should be deleted
type Filter interface {
	Evaluate(p *models.Post) filter.Reason
}

// Deleter removes one post from the instance
type Deleter interface {
	DeleteStatus(ctx context.Context, id string) error
}

// Throttle is the batch scheduler gating deletions
type Throttle interface {
	RecordAttempt()
	ShouldPause() bool
	Pause(ctx context.Context) error
	Cooldown(ctx context.Context) error
}

// Recorder stores a copy of a post before it is deleted
type Recorder interface {
	Record(p *models.Post) error
}

// Journal lists matched posts in human readable form
type Journal interface {
	Write(p *models.Post) error
}

// Event is reported once per considered post
type Event struct {
	Post    *models.Post
	Outcome Outcome
	Reason  filter.Reason
	Err     error
	// Summary is a snapshot taken after the post was counted
	Summary Summary
}

// Options configures an Orchestrator
type Options struct {
	Preview bool
	RunID   string

	// Backup and Journal are optional
	Backup  Recorder
	Journal Journal

	Logger logger.Logger
	// Observer receives one Event per post
	Observer func(Event)
	// OnState is called on every state transition
	OnState func(State)
	Now     func() time.Time
}

// Orchestrator runs the list, filter, delete loop for one account. It is
// single threaded: one post is processed at a time and at most one delete
// request is in flight.
type Orchestrator struct {
	source   Source
	filter   Filter
	deleter  Deleter
	throttle Throttle
	opts     Options
	log      logger.Logger

	state   State
	summary Summary
}

// New creates an orchestrator. deleter and throttle may be nil in preview mode.
func New(source Source, f Filter, deleter Deleter, throttle Throttle, opts Options) (*Orchestrator, error) {
	if source == nil || f == nil {
		return nil, fmt.Errorf("source and filter are required")
	}
	if !opts.Preview && (deleter == nil || throttle == nil) {
		return nil, fmt.Errorf("deleter and throttle are required outside preview mode")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Orchestrator{
		source:   source,
		filter:   f,
		deleter:  deleter,
		throttle: throttle,
		opts:     opts,
		log:      log.WithFields(map[string]interface{}{"run_id": opts.RunID, "preview": opts.Preview}),
		summary:  Summary{RunID: opts.RunID, Preview: opts.Preview},
	}, nil
}

// State returns the current state
func (o *Orchestrator) State() State {
	return o.state
}

// Summary returns a copy of the counters so far
func (o *Orchestrator) Summary() Summary {
	s := o.summary
	s.FailedIDs = append([]string(nil), o.summary.FailedIDs...)
	return s
}

func (o *Orchestrator) setState(s State) {
	o.state = s
	if o.opts.OnState != nil {
		o.opts.OnState(s)
	}
}

func (o *Orchestrator) emit(p *models.Post, outcome Outcome, reason filter.Reason, err error) {
	if o.opts.Observer != nil {
		o.opts.Observer(Event{Post: p, Outcome: outcome, Reason: reason, Err: err, Summary: o.Summary()})
	}
}

// Run processes posts until the source is exhausted, the context is
// cancelled, or a run-level error occurs. The returned summary is never nil.
// Cancellation is honoured between posts; an in-flight delete completes.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	o.summary.StartedAt = o.opts.Now().UTC()
	o.log.Info("Run started")

	err := o.loop(ctx)

	if pages, ok := o.source.(interface{ Pages() int }); ok {
		o.summary.Pages = pages.Pages()
	}
	o.summary.FinishedAt = o.opts.Now().UTC()
	o.setState(StateDone)

	s := o.Summary()
	fields := map[string]interface{}{
		"considered":   s.Considered,
		"filtered_out": s.FilteredOut,
		"previewed":    s.Previewed,
		"deleted":      s.Deleted,
		"backed_up":    s.BackedUp,
		"failed":       s.Failed,
		"complete":     s.Complete,
	}
	if err != nil {
		o.log.WithError(err).WarnWithFields("Run stopped early", fields)
	} else {
		o.log.InfoWithFields("Run finished", fields)
	}
	return &s, err
}

func (o *Orchestrator) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			o.summary.Interrupted = true
			return fmt.Errorf("%w: %v", ErrInterrupted, err)
		}

		o.setState(StateScanning)
		if !o.source.Next(ctx) {
			return o.sourceDone(ctx)
		}
		p := o.source.Post()
		o.summary.Considered++

		o.setState(StateFiltering)
		if reason := o.filter.Evaluate(p); reason != filter.ReasonMatched {
			o.summary.FilteredOut++
			o.setState(StateSkipped)
			o.log.DebugWithFields("Status skipped", map[string]interface{}{
				"status_id": p.ID,
				"reason":    string(reason),
			})
			o.emit(p, OutcomeSkipped, reason, nil)
			continue
		}

		if o.opts.Journal != nil {
			if err := o.opts.Journal.Write(p); err != nil {
				o.log.WithError(err).WithField("status_id", p.ID).Warn("Failed to write activity log entry")
			}
		}

		if o.opts.Preview {
			o.summary.Previewed++
			o.setState(StatePreviewed)
			o.log.InfoWithFields("Would delete status", map[string]interface{}{
				"status_id":  p.ID,
				"created_at": p.CreatedAt.Format(time.RFC3339),
			})
			o.emit(p, OutcomePreviewed, filter.ReasonMatched, nil)
			continue
		}

		if err := o.deletePost(ctx, p); err != nil {
			return err
		}
	}
}

// sourceDone classifies why the source stopped
func (o *Orchestrator) sourceDone(ctx context.Context) error {
	err := o.source.Err()
	if err == nil {
		o.summary.Complete = true
		return nil
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		o.summary.Interrupted = true
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	if errs.IsType(err, errs.ErrorTypeAuth) {
		return fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}
	if o.summary.Considered == 0 && errs.IsType(err, errs.ErrorTypeNetwork) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}

// deletePost backs up and deletes one post. It returns an error only when
// the whole run must stop.
func (o *Orchestrator) deletePost(ctx context.Context, p *models.Post) error {
	log := o.log.WithField("status_id", p.ID)

	// The quota is enforced before the next attempt, so a run that ends
	// exactly on a batch boundary does not sleep for nothing.
	if o.throttle.ShouldPause() {
		o.setState(StateCooldown)
		if err := o.throttle.Pause(ctx); err != nil {
			o.summary.Interrupted = true
			return fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		o.summary.BatchPauses++
	}

	o.setState(StateBackingUp)
	if o.opts.Backup != nil {
		if err := o.opts.Backup.Record(p); err != nil {
			o.summary.BackupFailures++
			log.WithError(err).Warn("Backup failed, deleting anyway")
		} else {
			o.summary.BackedUp++
		}
	}

	// An interrupt must not abort a request halfway
	reqCtx := context.WithoutCancel(ctx)

	o.setState(StateDeleting)
	err := o.deleter.DeleteStatus(reqCtx, p.ID)

	if errs.IsRateLimit(err) {
		o.setState(StateRateLimited)
		log.WithError(err).Warn("Instance rate limit hit")

		o.setState(StateCooldown)
		if cerr := o.throttle.Cooldown(ctx); cerr != nil {
			o.summary.Failed++
			o.summary.FailedIDs = append(o.summary.FailedIDs, p.ID)
			o.summary.Interrupted = true
			o.emit(p, OutcomeFailed, filter.ReasonMatched, err)
			return fmt.Errorf("%w: %v", ErrInterrupted, cerr)
		}
		o.summary.ThrottlePauses++

		o.setState(StateDeleting)
		err = o.deleter.DeleteStatus(reqCtx, p.ID)
	}

	switch {
	case err == nil:
		o.summary.Deleted++
		o.throttle.RecordAttempt()
		o.setState(StateDeleted)
		log.InfoWithFields("Deleted status", map[string]interface{}{
			"created_at": p.CreatedAt.Format(time.RFC3339),
		})
		o.emit(p, OutcomeDeleted, filter.ReasonMatched, nil)

	case errs.IsNotFound(err):
		o.summary.Deleted++
		o.summary.AlreadyGone++
		o.throttle.RecordAttempt()
		o.setState(StateDeleted)
		log.Info("Status was already gone")
		o.emit(p, OutcomeDeleted, filter.ReasonMatched, nil)

	case errs.IsType(err, errs.ErrorTypeAuth):
		o.summary.Failed++
		o.summary.FailedIDs = append(o.summary.FailedIDs, p.ID)
		o.setState(StateFailed)
		o.emit(p, OutcomeFailed, filter.ReasonMatched, err)
		return fmt.Errorf("%w: %v", ErrAuthRejected, err)

	default:
		o.summary.Failed++
		o.summary.FailedIDs = append(o.summary.FailedIDs, p.ID)
		o.setState(StateFailed)
		log.WithError(err).WithField("error_type", string(errs.TypeOf(err))).Warn("Failed to delete status")
		o.emit(p, OutcomeFailed, filter.ReasonMatched, err)
	}

	return nil
}

// Verifier checks the access token
type Verifier interface {
	VerifyCredentials(ctx context.Context) (*mastodon.Account, error)
}

// Authenticate resolves the account owning the token. Failures are mapped
// to the run-level errors so callers can choose an exit status.
func Authenticate(ctx context.Context, v Verifier) (*mastodon.Account, error) {
	acct, err := v.VerifyCredentials(ctx)
	switch {
	case err == nil:
		return acct, nil
	case errs.IsType(err, errs.ErrorTypeAuth), errs.IsType(err, errs.ErrorTypeForbidden):
		return nil, fmt.Errorf("%w: %v", ErrAuthRejected, err)
	case errs.IsType(err, errs.ErrorTypeNetwork):
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	default:
		return nil, err
	}
}

// IsFatal reports whether err aborted the run rather than a single post
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrUnreachable) || timeline.IsFetchError(err)
}
