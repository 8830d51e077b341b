// Package retry retries transient failures when reading the timeline.
//
// Deletions are not retried here: a throttled delete gets exactly one
// retry after a full cooldown, which package purge drives through the
// batch scheduler. Page fetches use Value with exponential backoff, and a
// Retry-After hint from the server wins when it asks for a longer wait.
//
//	page, err := retry.Value(ctx, retry.Policy{Attempts: 4}, func(ctx context.Context) (*mastodon.Page, error) {
//		return client.AccountStatuses(ctx, accountID, cursor, limit)
//	})
//
// Auth, forbidden and not-found errors are never retried.
package retry
