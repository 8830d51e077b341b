// Package mastodon is a minimal client for the three Mastodon endpoints the
// tool needs: verify_credentials, an account's statuses, and status
// deletion.
//
// Failures are returned as *errors.Error so callers can branch on the type:
//
//	401 -> auth, 403/422 -> forbidden, 404/410 -> not_found,
//	429 -> rate_limit (RetryAfter filled from Retry-After or X-RateLimit-Reset),
//	5xx -> server_error, transport -> network, bad JSON -> parsing
//
// Pagination follows the rel="next" Link header. When a server sends no
// Link header at all the oldest id on the page is used as max_id.
package mastodon
