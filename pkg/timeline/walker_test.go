package timeline

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mastogone/pkg/config"
	errs "mastogone/pkg/errors"
	"mastogone/pkg/filter"
	"mastogone/pkg/logger"
	"mastogone/pkg/mastodon"
	"mastogone/pkg/mastodon/mastodontest"
	"mastogone/pkg/retry"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

// scriptedLister serves prepared pages keyed by cursor
type scriptedLister struct {
	pages map[string]*mastodon.Page
	errs  map[string][]error
	calls []string
}

func (s *scriptedLister) AccountStatuses(ctx context.Context, accountID, maxID string, limit int) (*mastodon.Page, error) {
	s.calls = append(s.calls, maxID)
	if queue := s.errs[maxID]; len(queue) > 0 {
		s.errs[maxID] = queue[1:]
		return nil, queue[0]
	}
	if p, ok := s.pages[maxID]; ok {
		return p, nil
	}
	return &mastodon.Page{}, nil
}

func status(id string) mastodon.Status {
	return mastodon.Status{ID: id, CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Content: "<p>s" + id + "</p>"}
}

func collect(t *testing.T, w *Walker) []string {
	t.Helper()
	var ids []string
	for w.Next(context.Background()) {
		ids = append(ids, w.Post().ID)
	}
	return ids
}

func testOptions() Options {
	return Options{
		PageSize:     2,
		FetchRetries: 2,
		Backoff:      &retry.Constant{Delay: time.Millisecond},
		Sleep:        noSleep,
	}
}

func TestWalkerFollowsCursorUntilEmptyPage(t *testing.T) {
	l := &scriptedLister{pages: map[string]*mastodon.Page{
		"":  {Statuses: []mastodon.Status{status("5"), status("4")}, NextMaxID: "4"},
		"4": {Statuses: []mastodon.Status{status("3"), status("2")}, NextMaxID: "2"},
		"2": {Statuses: []mastodon.Status{status("1")}, NextMaxID: "1"},
	}}

	w := New(l, "acct", testOptions())
	ids := collect(t, w)

	require.NoError(t, w.Err())
	assert.Equal(t, []string{"5", "4", "3", "2", "1"}, ids)
	assert.Equal(t, []string{"", "4", "2", "1"}, l.calls)
	assert.True(t, w.Done())
	assert.Equal(t, 4, w.Pages())
	assert.False(t, w.Next(context.Background()), "walker must not restart")
}

func TestWalkerStopsWithoutCursor(t *testing.T) {
	l := &scriptedLister{pages: map[string]*mastodon.Page{
		"": {Statuses: []mastodon.Status{status("2"), status("1")}},
	}}

	w := New(l, "acct", testOptions())
	assert.Equal(t, []string{"2", "1"}, collect(t, w))
	assert.Equal(t, []string{""}, l.calls)
	assert.NoError(t, w.Err())
}

func TestWalkerSkipsDuplicatesAndRepeatedCursor(t *testing.T) {
	l := &scriptedLister{pages: map[string]*mastodon.Page{
		"":  {Statuses: []mastodon.Status{status("3"), status("2")}, NextMaxID: "2"},
		"2": {Statuses: []mastodon.Status{status("2"), status("1")}, NextMaxID: "2"},
	}}

	w := New(l, "acct", testOptions())
	assert.Equal(t, []string{"3", "2", "1"}, collect(t, w))
	assert.Equal(t, []string{"", "2"}, l.calls)
}

func TestWalkerRetriesTransientFailures(t *testing.T) {
	l := &scriptedLister{
		pages: map[string]*mastodon.Page{
			"": {Statuses: []mastodon.Status{status("1")}, NextMaxID: "1"},
		},
		errs: map[string][]error{
			"": {
				errs.New(errs.ErrorTypeServerError, 502, "bad gateway"),
				errs.New(errs.ErrorTypeRateLimit, 429, "slow down"),
			},
		},
	}

	w := New(l, "acct", testOptions())
	assert.Equal(t, []string{"1"}, collect(t, w))
	assert.NoError(t, w.Err())
	assert.Equal(t, []string{"", "", "", "1"}, l.calls)
}

func TestWalkerSignalsErrorInsteadOfTruncating(t *testing.T) {
	fail := errs.New(errs.ErrorTypeServerError, 503, "unavailable")
	l := &scriptedLister{
		pages: map[string]*mastodon.Page{
			"": {Statuses: []mastodon.Status{status("2")}, NextMaxID: "2"},
		},
		errs: map[string][]error{"2": {fail, fail, fail}},
	}

	w := New(l, "acct", testOptions())
	ids := collect(t, w)

	assert.Equal(t, []string{"2"}, ids)
	require.Error(t, w.Err())
	assert.True(t, IsFetchError(w.Err()))
	assert.True(t, errs.IsType(w.Err(), errs.ErrorTypeServerError))
	assert.False(t, w.Done())

	var fe *FetchError
	require.ErrorAs(t, w.Err(), &fe)
	assert.Equal(t, "2", fe.Cursor)
}

func TestWalkerDoesNotRetryAuthFailure(t *testing.T) {
	l := &scriptedLister{errs: map[string][]error{"": {errs.New(errs.ErrorTypeAuth, 401, "invalid token")}}}

	w := New(l, "acct", testOptions())
	assert.Empty(t, collect(t, w))
	assert.True(t, errs.IsType(w.Err(), errs.ErrorTypeAuth))
	assert.Len(t, l.calls, 1)
}

func TestWalkerCancelledContext(t *testing.T) {
	l := &scriptedLister{}
	w := New(l, "acct", Options{RequestsPerMinute: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, w.Next(ctx))
	assert.ErrorIs(t, w.Err(), context.Canceled)
	assert.Empty(t, l.calls)
}

func TestToPost(t *testing.T) {
	reply := "77"
	st := &mastodon.Status{
		ID:          "9",
		CreatedAt:   time.Date(2024, 2, 3, 4, 5, 6, 0, time.FixedZone("CET", 3600)),
		Content:     "<p>hello<br>world</p>",
		InReplyToID: &reply,
		Raw:         []byte(`{"id":"9"}`),
	}

	p := ToPost(st)
	assert.Equal(t, "9", p.ID)
	assert.Equal(t, time.UTC, p.CreatedAt.Location())
	assert.Equal(t, 3, p.CreatedAt.Hour())
	assert.Equal(t, "hello\nworld", p.Content)
	assert.True(t, p.IsReply)
	assert.False(t, p.IsReblog)
	assert.JSONEq(t, `{"id":"9"}`, string(p.Raw))
}

func TestToPostUnescapesPlainContent(t *testing.T) {
	p := ToPost(&mastodon.Status{ID: "10", Content: "fish &amp; chips"})
	assert.Equal(t, "fish & chips", p.Content)

	m, err := filter.New(filter.Criteria{Patterns: []string{"fish & chips"}})
	require.NoError(t, err)
	assert.True(t, m.Matches(&p))
}

func TestWalkerAgainstFakeServer(t *testing.T) {
	srv := mastodontest.NewServer("tok")
	defer srv.Close()
	srv.GenerateStatuses(95, time.Now())
	srv.FailList(http.StatusServiceUnavailable)

	client, err := mastodon.NewClient(&config.InstanceConfig{BaseURL: srv.URL(), AccessToken: "tok"}, logger.NewNopLogger())
	require.NoError(t, err)

	opts := testOptions()
	opts.PageSize = 40
	w := New(client, srv.AccountID, opts)

	ids := collect(t, w)
	require.NoError(t, w.Err())
	assert.Len(t, ids, 95)
	assert.Equal(t, "100000", ids[0])
	assert.Equal(t, "99906", ids[94])
	// one failed call, three pages, one empty page
	assert.Equal(t, 5, srv.ListCalls())
}
