// Package ratelimit keeps deletions under a Mastodon instance's quota of
// 30 deletes per 30 minutes.
//
// The Scheduler is a two-state machine. In the normal state the caller
// records each successful deletion; once the batch is used up ShouldPause
// reports true and Pause moves the scheduler to the cooling state for one
// full window, then back to normal with the counter reset. A 429 from the
// server triggers the same full-window Cooldown regardless of the counter.
//
//	sched, _ := ratelimit.New(30, 30*time.Minute)
//	sched.RecordAttempt()
//	if sched.ShouldPause() {
//		if err := sched.Pause(ctx); err != nil {
//			return err
//		}
//	}
//
// Listing requests are paced separately with golang.org/x/time/rate in
// package timeline; they do not count toward the delete quota.
package ratelimit
