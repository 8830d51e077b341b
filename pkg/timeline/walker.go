package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"mastogone/pkg/logger"
	"mastogone/pkg/mastodon"
	"mastogone/pkg/models"
	"mastogone/pkg/retry"
)

// Lister fetches one page of an account's statuses
type Lister interface {
	AccountStatuses(ctx context.Context, accountID, maxID string, limit int) (*mastodon.Page, error)
}

// Options tunes paging
type Options struct {
	PageSize int
	// RequestsPerMinute paces list calls; zero disables pacing
	RequestsPerMinute int
	// FetchRetries is how many times a failed page is retried
	FetchRetries int
	Backoff      retry.BackoffStrategy
	// Sleep replaces the backoff timer, used by tests
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger logger.Logger
}

// FetchError means the history could not be read to the end. The walk is
// incomplete and the caller must not treat it as exhaustive.
type FetchError struct {
	Cursor string
	Pages  int
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("timeline fetch failed after %d pages (cursor %q): %v", e.Pages, e.Cursor, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Walker yields an account's posts from newest to oldest, one page at a
// time. It never revisits a page and cannot be rewound.
//
//	w := timeline.New(client, accountID, opts)
//	for w.Next(ctx) {
//		post := w.Post()
//	}
//	if err := w.Err(); err != nil { ... }
type Walker struct {
	lister    Lister
	accountID string
	opts      Options
	limiter   *rate.Limiter
	log       logger.Logger

	cursor  string
	buf     []models.Post
	current *models.Post
	seen    map[string]struct{}
	done    bool
	err     error
	pages   int
	yielded int
}

// New creates a walker over accountID's statuses
func New(lister Lister, accountID string, opts Options) *Walker {
	if opts.PageSize <= 0 || opts.PageSize > mastodon.MaxStatusLimit {
		opts.PageSize = mastodon.MaxStatusLimit
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.DefaultPageBackoff()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
	}

	return &Walker{
		lister:    lister,
		accountID: accountID,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, 1),
		log:       log.WithField("component", "timeline"),
		seen:      make(map[string]struct{}),
	}
}

// Next advances to the next post, fetching a page when the buffer is empty.
// It returns false when the history is exhausted or an error occurred.
func (w *Walker) Next(ctx context.Context) bool {
	for len(w.buf) == 0 {
		if w.done || w.err != nil {
			w.current = nil
			return false
		}
		w.fetch(ctx)
	}

	p := w.buf[0]
	w.buf = w.buf[1:]
	w.current = &p
	w.yielded++
	return true
}

// Post returns the post Next advanced to
func (w *Walker) Post() *models.Post {
	return w.current
}

// Err returns the error that stopped the walk, nil when exhausted normally
func (w *Walker) Err() error {
	return w.err
}

// Cursor is the opaque continuation token for the next page
func (w *Walker) Cursor() string {
	return w.cursor
}

// Pages returns how many pages were fetched
func (w *Walker) Pages() int {
	return w.pages
}

// Done reports whether the walk reached the oldest post
func (w *Walker) Done() bool {
	return w.done && w.err == nil
}

func (w *Walker) fetch(ctx context.Context) {
	if err := w.limiter.Wait(ctx); err != nil {
		w.err = &FetchError{Cursor: w.cursor, Pages: w.pages, Err: err}
		return
	}

	cursor := w.cursor
	page, err := retry.Value(ctx, retry.Policy{
		Attempts: w.opts.FetchRetries + 1,
		Backoff:  w.opts.Backoff,
		Logger:   w.log,
		Sleep:    w.opts.Sleep,
	}, func(ctx context.Context) (*mastodon.Page, error) {
		return w.lister.AccountStatuses(ctx, w.accountID, cursor, w.opts.PageSize)
	})
	if err != nil {
		w.err = &FetchError{Cursor: cursor, Pages: w.pages, Err: err}
		w.log.WithError(err).WithFields(map[string]interface{}{
			"cursor": cursor,
			"pages":  w.pages,
		}).Error("Failed to fetch statuses page")
		return
	}
	w.pages++

	if len(page.Statuses) == 0 {
		w.done = true
		w.log.DebugWithFields("Reached the end of the timeline", map[string]interface{}{
			"pages": w.pages,
			"posts": w.yielded,
		})
		return
	}

	for i := range page.Statuses {
		st := &page.Statuses[i]
		if _, dup := w.seen[st.ID]; dup {
			continue
		}
		w.seen[st.ID] = struct{}{}
		w.buf = append(w.buf, ToPost(st))
	}

	switch {
	case page.NextMaxID == "":
		w.done = true
	case page.NextMaxID == cursor:
		w.log.WarnWithFields("Server returned the same cursor twice, stopping", map[string]interface{}{
			"cursor": cursor,
		})
		w.done = true
	default:
		w.cursor = page.NextMaxID
	}

	w.log.DebugWithFields("Fetched statuses page", map[string]interface{}{
		"page":   w.pages,
		"count":  len(page.Statuses),
		"cursor": w.cursor,
	})
}

// IsFetchError reports whether err came from an incomplete walk
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// ToPost converts an API status into a post record
func ToPost(st *mastodon.Status) models.Post {
	return models.Post{
		ID:         st.ID,
		CreatedAt:  st.CreatedAt.UTC(),
		Content:    mastodon.HTMLToText(st.Content),
		HTML:       st.Content,
		URL:        st.URL,
		Visibility: st.Visibility,
		IsReply:    st.IsReply(),
		IsReblog:   st.IsReblog(),
		Raw:        st.Raw,
	}
}
