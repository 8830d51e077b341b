// Package timeline walks the authenticated account's status history.
//
// Pages are requested newest first using max_id cursors, paced with a
// golang.org/x/time/rate limiter and retried on transient failures. When
// retries run out the walk stops with a *FetchError rather than ending
// quietly, so a partial scan is never mistaken for a complete one.
package timeline
