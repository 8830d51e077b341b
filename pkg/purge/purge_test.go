package purge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "mastogone/pkg/errors"
	"mastogone/pkg/filter"
	"mastogone/pkg/logger"
	"mastogone/pkg/models"
	"mastogone/pkg/ratelimit"
	"mastogone/pkg/timeline"
)

// sliceSource yields prepared posts, then err
type sliceSource struct {
	posts []*models.Post
	err   error
	i     int
}

func (s *sliceSource) Next(ctx context.Context) bool {
	if s.i >= len(s.posts) {
		return false
	}
	s.i++
	return true
}

func (s *sliceSource) Post() *models.Post { return s.posts[s.i-1] }
func (s *sliceSource) Err() error {
	if s.i >= len(s.posts) {
		return s.err
	}
	return nil
}

// allowFilter matches every post except the ids in reject
type allowFilter struct {
	reject map[string]filter.Reason
}

func (f allowFilter) Evaluate(p *models.Post) filter.Reason {
	if r, ok := f.reject[p.ID]; ok {
		return r
	}
	return filter.ReasonMatched
}

// scriptedDeleter answers deletes from a per-id queue of errors
type scriptedDeleter struct {
	errs  map[string][]error
	calls []string
	trace *[]string
}

func (d *scriptedDeleter) DeleteStatus(ctx context.Context, id string) error {
	d.calls = append(d.calls, id)
	if d.trace != nil {
		*d.trace = append(*d.trace, "delete:"+id)
	}
	if q := d.errs[id]; len(q) > 0 {
		d.errs[id] = q[1:]
		return q[0]
	}
	return nil
}

func (d *scriptedDeleter) callsFor(id string) int {
	n := 0
	for _, c := range d.calls {
		if c == id {
			n++
		}
	}
	return n
}

type recordingSleeper struct {
	calls []time.Duration
	trace *[]string
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	if s.trace != nil {
		*s.trace = append(*s.trace, "sleep")
	}
	return ctx.Err()
}

type memoryRecorder struct {
	ids   []string
	fail  map[string]bool
	trace *[]string
}

func (r *memoryRecorder) Record(p *models.Post) error {
	if r.trace != nil {
		*r.trace = append(*r.trace, "backup:"+p.ID)
	}
	if r.fail[p.ID] {
		return errors.New("disk full")
	}
	r.ids = append(r.ids, p.ID)
	return nil
}

func posts(n int) []*models.Post {
	out := make([]*models.Post, n)
	for i := range out {
		out[i] = &models.Post{
			ID:        fmt.Sprintf("%d", 1000-i),
			CreatedAt: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC).Add(-time.Duration(i) * time.Hour),
			Content:   fmt.Sprintf("post %d", i),
		}
	}
	return out
}

func rateLimited() error {
	e := errs.New(errs.ErrorTypeRateLimit, http.StatusTooManyRequests, "Too many requests")
	e.RetryAfter = time.Minute
	return e
}

func newScheduler(t *testing.T, batch int, sl *recordingSleeper) *ratelimit.Scheduler {
	t.Helper()
	s, err := ratelimit.New(batch, 30*time.Minute, ratelimit.WithSleeper(sl.Sleep))
	require.NoError(t, err)
	return s
}

func newOrchestrator(t *testing.T, src Source, f Filter, d Deleter, th Throttle, opts Options) *Orchestrator {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	o, err := New(src, f, d, th, opts)
	require.NoError(t, err)
	return o
}

func TestNewRequiresDeleterOutsidePreview(t *testing.T) {
	_, err := New(&sliceSource{}, allowFilter{}, nil, nil, Options{})
	assert.Error(t, err)

	_, err = New(&sliceSource{}, allowFilter{}, nil, nil, Options{Preview: true})
	assert.NoError(t, err)

	_, err = New(nil, allowFilter{}, nil, nil, Options{Preview: true})
	assert.Error(t, err)
}

func TestPreviewNeverDeletes(t *testing.T) {
	d := &scriptedDeleter{}
	sl := &recordingSleeper{}
	src := &sliceSource{posts: posts(5)}
	f := allowFilter{reject: map[string]filter.Reason{"999": filter.ReasonReply}}

	o := newOrchestrator(t, src, f, d, newScheduler(t, 2, sl), Options{Preview: true})
	s, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Empty(t, d.calls)
	assert.Empty(t, sl.calls)
	assert.Equal(t, 5, s.Considered)
	assert.Equal(t, 1, s.FilteredOut)
	assert.Equal(t, 4, s.Previewed)
	assert.Equal(t, 0, s.Deleted)
	assert.Equal(t, 4, s.Matched())
	assert.True(t, s.Complete)
	assert.Equal(t, StateDone, o.State())
}

func TestBatchPauseBetweenBatches(t *testing.T) {
	var trace []string
	d := &scriptedDeleter{trace: &trace}
	sl := &recordingSleeper{trace: &trace}

	o := newOrchestrator(t, &sliceSource{posts: posts(35)}, allowFilter{}, d, newScheduler(t, 30, sl), Options{})
	s, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 35, s.Deleted)
	assert.Equal(t, 1, s.BatchPauses)
	assert.Equal(t, []time.Duration{30 * time.Minute}, sl.calls)
	// the pause sits between the 30th and 31st delete
	require.Len(t, trace, 36)
	assert.Equal(t, "sleep", trace[30])
}

func TestNoPauseWhenRunEndsOnBatchBoundary(t *testing.T) {
	sl := &recordingSleeper{}
	o := newOrchestrator(t, &sliceSource{posts: posts(30)}, allowFilter{}, &scriptedDeleter{}, newScheduler(t, 30, sl), Options{})
	s, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 30, s.Deleted)
	assert.Empty(t, sl.calls)
}

func TestThrottledDeleteRetriesOnce(t *testing.T) {
	d := &scriptedDeleter{errs: map[string][]error{"998": {rateLimited()}}}
	sl := &recordingSleeper{}
	var states []State

	o := newOrchestrator(t, &sliceSource{posts: posts(3)}, allowFilter{}, d, newScheduler(t, 30, sl), Options{
		OnState: func(s State) { states = append(states, s) },
	})
	s, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, s.Deleted)
	assert.Equal(t, 0, s.Failed)
	assert.Equal(t, 1, s.ThrottlePauses)
	assert.Equal(t, 2, d.callsFor("998"))
	assert.Equal(t, []time.Duration{30 * time.Minute}, sl.calls)
	assertInOrder(t, states, StateDeleting, StateRateLimited, StateCooldown, StateDeleting, StateDeleted)
}

func TestThrottledTwiceFailsAndContinues(t *testing.T) {
	d := &scriptedDeleter{errs: map[string][]error{"999": {rateLimited(), rateLimited(), rateLimited()}}}
	sl := &recordingSleeper{}

	o := newOrchestrator(t, &sliceSource{posts: posts(3)}, allowFilter{}, d, newScheduler(t, 30, sl), Options{})
	s, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, d.callsFor("999"), "exactly one retry after a cooldown")
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, []string{"999"}, s.FailedIDs)
	assert.Equal(t, 2, s.Deleted)
	assert.True(t, s.HasFailures())
}

func TestDeleteOutcomes(t *testing.T) {
	d := &scriptedDeleter{errs: map[string][]error{
		"1000": {errs.New(errs.ErrorTypeNotFound, http.StatusNotFound, "Record not found")},
		"999":  {errs.New(errs.ErrorTypeServerError, http.StatusInternalServerError, "boom")},
		"998":  {errs.New(errs.ErrorTypeForbidden, http.StatusForbidden, "This action is not allowed")},
	}}
	var events []Event

	o := newOrchestrator(t, &sliceSource{posts: posts(4)}, allowFilter{}, d, newScheduler(t, 30, &recordingSleeper{}), Options{
		Observer: func(e Event) { events = append(events, e) },
	})
	s, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, s.Deleted)
	assert.Equal(t, 1, s.AlreadyGone)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, []string{"999", "998"}, s.FailedIDs)
	require.Len(t, events, 4)
	assert.Equal(t, OutcomeDeleted, events[0].Outcome)
	assert.Equal(t, OutcomeFailed, events[1].Outcome)
	assert.Error(t, events[1].Err)
	assert.Equal(t, OutcomeDeleted, events[3].Outcome)
	assert.Equal(t, 2, events[3].Summary.Deleted)
}

func TestAuthErrorOnDeleteAbortsRun(t *testing.T) {
	d := &scriptedDeleter{errs: map[string][]error{
		"999": {errs.New(errs.ErrorTypeAuth, http.StatusUnauthorized, "The access token was revoked")},
	}}

	o := newOrchestrator(t, &sliceSource{posts: posts(4)}, allowFilter{}, d, newScheduler(t, 30, &recordingSleeper{}), Options{})
	s, err := o.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.True(t, IsFatal(err))
	require.NotNil(t, s)
	assert.Equal(t, 1, s.Deleted)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, []string{"1000", "999"}, d.calls)
}

func TestBackupPrecedesDelete(t *testing.T) {
	var trace []string
	d := &scriptedDeleter{trace: &trace}
	rec := &memoryRecorder{trace: &trace, fail: map[string]bool{"999": true}}

	o := newOrchestrator(t, &sliceSource{posts: posts(3)}, allowFilter{}, d, newScheduler(t, 30, &recordingSleeper{}), Options{Backup: rec})
	s, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{
		"backup:1000", "delete:1000",
		"backup:999", "delete:999",
		"backup:998", "delete:998",
	}, trace)
	assert.Equal(t, 3, s.Deleted)
	assert.Equal(t, 2, s.BackedUp)
	assert.Equal(t, 1, s.BackupFailures)
}

func TestFilteredPostsAreNotTouched(t *testing.T) {
	d := &scriptedDeleter{}
	rec := &memoryRecorder{}
	f := allowFilter{reject: map[string]filter.Reason{
		"1000": filter.ReasonTooRecent,
		"998":  filter.ReasonNoPattern,
	}}

	o := newOrchestrator(t, &sliceSource{posts: posts(4)}, f, d, newScheduler(t, 30, &recordingSleeper{}), Options{Backup: rec})
	s, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"999", "997"}, d.calls)
	assert.Equal(t, []string{"999", "997"}, rec.ids)
	assert.Equal(t, 4, s.Considered)
	assert.Equal(t, 2, s.FilteredOut)
}

func TestCancelStopsBetweenPosts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &scriptedDeleter{}
	o := newOrchestrator(t, &sliceSource{posts: posts(5)}, allowFilter{}, d, newScheduler(t, 30, &recordingSleeper{}), Options{
		Observer: func(e Event) {
			if e.Summary.Deleted == 2 {
				cancel()
			}
		},
	})
	s, err := o.Run(ctx)

	assert.ErrorIs(t, err, ErrInterrupted)
	assert.False(t, IsFatal(err))
	assert.True(t, s.Interrupted)
	assert.False(t, s.Complete)
	assert.Equal(t, 2, s.Deleted)
	assert.Len(t, d.calls, 2)
}

func TestSourceErrorIsFatalButReportsProgress(t *testing.T) {
	fetchErr := &timeline.FetchError{Cursor: "998", Pages: 1, Err: errs.New(errs.ErrorTypeServerError, 503, "unavailable")}
	src := &sliceSource{posts: posts(2), err: fetchErr}

	o := newOrchestrator(t, src, allowFilter{}, &scriptedDeleter{}, newScheduler(t, 30, &recordingSleeper{}), Options{})
	s, err := o.Run(context.Background())

	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.False(t, s.Complete)
	assert.Equal(t, 2, s.Deleted)
}

func TestUnreachableBeforeAnyPost(t *testing.T) {
	src := &sliceSource{err: &timeline.FetchError{Err: errs.New(errs.ErrorTypeNetwork, 0, "connection refused")}}

	o := newOrchestrator(t, src, allowFilter{}, &scriptedDeleter{}, newScheduler(t, 30, &recordingSleeper{}), Options{})
	_, err := o.Run(context.Background())

	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestJournalReceivesMatchedPosts(t *testing.T) {
	j := &memoryJournal{}
	f := allowFilter{reject: map[string]filter.Reason{"999": filter.ReasonReblog}}

	o := newOrchestrator(t, &sliceSource{posts: posts(3)}, f, nil, nil, Options{Preview: true, Journal: j})
	_, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"1000", "998"}, j.ids)
}

func TestRunLogsSummary(t *testing.T) {
	log := logger.NewTestLogger()
	o := newOrchestrator(t, &sliceSource{posts: posts(2)}, allowFilter{}, nil, nil, Options{Preview: true, Logger: log, RunID: "r1"})
	_, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, log.HasMessage("info", "Run finished"))
	assert.True(t, log.HasMessage("info", "Would delete status"))
}

type memoryJournal struct {
	ids []string
}

func (j *memoryJournal) Write(p *models.Post) error {
	j.ids = append(j.ids, p.ID)
	return nil
}

func TestSummaryDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Summary{StartedAt: start}
	assert.Zero(t, s.Duration())
	s.FinishedAt = start.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, s.Duration())
}

// assertInOrder checks that want appears in got as a contiguous run
func assertInOrder(t *testing.T, got []State, want ...State) {
	t.Helper()
	for i := 0; i+len(want) <= len(got); i++ {
		match := true
		for j := range want {
			if got[i+j] != want[j] {
				match = false
				break
			}
		}
		if match {
			return
		}
	}
	t.Errorf("states %v do not contain %v", got, want)
}
