// Package purge runs a deletion pass over one Mastodon account.
//
// The Orchestrator pulls posts from a timeline walker, asks the filter
// whether each one should go, and then either counts it (preview) or
// backs it up and deletes it (execute).
//
// Architecture:
//
// Every post moves through a small state machine:
//
//	scanning -> filtering -> skipped
//	                      -> previewed
//	                      -> backing_up -> deleting -> deleted
//	                                                -> failed
//	                                                -> rate_limited -> cooldown -> deleting
//
// A throttled delete is retried exactly once after the cooldown. A second
// 429 marks the post failed and the run moves on.
//
// Usage:
//
//	acct, err := purge.Authenticate(ctx, client)
//	if err != nil {
//	    return err
//	}
//	walker := timeline.New(client, acct.ID, timeline.Options{PageSize: 40})
//	sched, _ := ratelimit.New(30, 30*time.Minute)
//
//	o, err := purge.New(walker, matcher, client, sched, purge.Options{Backup: sink})
//	if err != nil {
//	    return err
//	}
//	summary, err := o.Run(ctx)
//
// Errors:
//
// Run returns ErrAuthRejected, ErrUnreachable or a *timeline.FetchError when
// the whole run has to stop, and ErrInterrupted when the context was
// cancelled. Per-post failures never abort the run; they are counted in the
// Summary, which is returned in every case.
package purge
