package purge

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mastogone/pkg/backup"
	"mastogone/pkg/config"
	"mastogone/pkg/filter"
	"mastogone/pkg/logger"
	"mastogone/pkg/mastodon"
	"mastogone/pkg/mastodon/mastodontest"
	"mastogone/pkg/retry"
	"mastogone/pkg/timeline"
)

type liveRun struct {
	srv     *mastodontest.Server
	client  *mastodon.Client
	sleeper *recordingSleeper
	backup  *backup.Sink
}

func newLiveRun(t *testing.T) *liveRun {
	t.Helper()
	srv := mastodontest.NewServer("secret")
	t.Cleanup(srv.Close)

	client, err := mastodon.NewClient(&config.InstanceConfig{
		BaseURL:     srv.URL(),
		AccessToken: "secret",
		Timeout:     5 * time.Second,
	}, logger.NewNopLogger())
	require.NoError(t, err)

	sink, err := backup.Open(filepath.Join(t.TempDir(), "backup.jsonl"), "run-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	return &liveRun{srv: srv, client: client, sleeper: &recordingSleeper{}, backup: sink}
}

func (r *liveRun) run(t *testing.T, m *filter.Matcher, preview bool) (*Summary, error) {
	t.Helper()
	acct, err := Authenticate(context.Background(), r.client)
	require.NoError(t, err)

	walker := timeline.New(r.client, acct.ID, timeline.Options{
		PageSize:     40,
		FetchRetries: 1,
		Backoff:      &retry.Constant{Delay: time.Millisecond},
		Sleep:        func(ctx context.Context, d time.Duration) error { return nil },
	})
	o, err := New(walker, m, r.client, newScheduler(t, 30, r.sleeper), Options{
		Preview: preview,
		RunID:   "run-1",
		Backup:  r.backup,
		Logger:  logger.NewNopLogger(),
	})
	require.NoError(t, err)
	return o.Run(context.Background())
}

func TestLiveRunDeletesOldPostsInBatches(t *testing.T) {
	r := newLiveRun(t)
	now := time.Now().UTC()
	r.srv.GenerateStatuses(35, now.AddDate(0, 0, -10))

	m, err := filter.FromConfig(&config.FilterConfig{Days: 1}, now)
	require.NoError(t, err)

	s, err := r.run(t, m, false)
	require.NoError(t, err)

	assert.Equal(t, 35, s.Considered)
	assert.Equal(t, 35, s.Deleted)
	assert.Equal(t, 35, s.BackedUp)
	assert.Equal(t, 1, s.BatchPauses)
	assert.Equal(t, 2, s.Pages)
	assert.True(t, s.Complete)
	assert.Equal(t, 0, r.srv.Remaining())
	assert.Equal(t, []time.Duration{30 * time.Minute}, r.sleeper.calls)
}

func TestLiveRunBacksUpOnlyMatches(t *testing.T) {
	r := newLiveRun(t)
	old := time.Now().UTC().AddDate(-1, 0, 0)
	r.srv.AddStatuses(
		mastodontest.Fixture{ID: "50", CreatedAt: old, Content: "<p>delete me please</p>"},
		mastodontest.Fixture{ID: "49", CreatedAt: old, Content: "<p>keep this one</p>"},
		mastodontest.Fixture{ID: "48", CreatedAt: old, Content: "<p>also delete me</p>"},
		mastodontest.Fixture{ID: "47", CreatedAt: old, Content: "<p>delete me</p>", InReplyToID: "1"},
		mastodontest.Fixture{ID: "46", CreatedAt: old, Content: "<p>delete me<br>twice</p>"},
	)

	m, err := filter.New(filter.Criteria{Patterns: []string{"delete me"}})
	require.NoError(t, err)

	s, err := r.run(t, m, false)
	require.NoError(t, err)
	require.NoError(t, r.backup.Close())

	assert.Equal(t, 3, s.Deleted)
	assert.Equal(t, 2, s.FilteredOut)
	assert.True(t, r.srv.IsDeleted("50"))
	assert.False(t, r.srv.IsDeleted("49"))
	assert.False(t, r.srv.IsDeleted("47"), "replies are kept unless included")

	records, err := backup.ReadAll(r.backup.Path())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"50", "48", "46"}, []string{records[0].ID, records[1].ID, records[2].ID})
	assert.Equal(t, "run-1", records[0].RunID)
	assert.NotEmpty(t, records[0].Status)

	info, err := os.Stat(r.backup.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLiveRunPreviewLeavesServerUntouched(t *testing.T) {
	r := newLiveRun(t)
	r.srv.GenerateStatuses(12, time.Now().UTC().AddDate(0, -1, 0))

	m, err := filter.New(filter.Criteria{})
	require.NoError(t, err)

	s, err := r.run(t, m, true)
	require.NoError(t, err)

	assert.Equal(t, 12, s.Previewed)
	assert.Empty(t, r.srv.DeleteCalls())
	assert.Equal(t, 12, r.srv.Remaining())
	assert.Equal(t, 0, r.backup.Count())
}

func TestLiveRunThrottledDelete(t *testing.T) {
	r := newLiveRun(t)
	r.srv.GenerateStatuses(3, time.Now().UTC().AddDate(0, -1, 0))
	r.srv.FailDelete("99999", http.StatusTooManyRequests)
	r.srv.FailDelete("99998", http.StatusTooManyRequests, http.StatusTooManyRequests)

	m, err := filter.New(filter.Criteria{})
	require.NoError(t, err)

	s, err := r.run(t, m, false)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Deleted)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, []string{"99998"}, s.FailedIDs)
	assert.Equal(t, 2, s.ThrottlePauses)
	assert.Equal(t, []string{"100000", "99999", "99999", "99998", "99998"}, r.srv.DeleteCalls())
}

func TestAuthenticateMapsFailures(t *testing.T) {
	srv := mastodontest.NewServer("secret")
	defer srv.Close()

	bad, err := mastodon.NewClient(&config.InstanceConfig{BaseURL: srv.URL(), AccessToken: "wrong"}, logger.NewNopLogger())
	require.NoError(t, err)
	_, err = Authenticate(context.Background(), bad)
	assert.ErrorIs(t, err, ErrAuthRejected)

	srv.Close()
	gone, err := mastodon.NewClient(&config.InstanceConfig{BaseURL: srv.URL(), AccessToken: "secret"}, logger.NewNopLogger())
	require.NoError(t, err)
	_, err = Authenticate(context.Background(), gone)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, IsFatal(err))
}
