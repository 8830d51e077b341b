package purge

// State is a step of the per-post state machine
type State string

const (
	StateScanning    State = "scanning"
	StateFiltering   State = "filtering"
	StateSkipped     State = "skipped"
	StatePreviewed   State = "previewed"
	StateBackingUp   State = "backing_up"
	StateDeleting    State = "deleting"
	StateDeleted     State = "deleted"
	StateRateLimited State = "rate_limited"
	StateCooldown    State = "cooldown"
	StateFailed      State = "failed"
	StateDone        State = "done"
)

// Outcome is the final state reached by one post
type Outcome string

const (
	OutcomeSkipped   Outcome = Outcome(StateSkipped)
	OutcomePreviewed Outcome = Outcome(StatePreviewed)
	OutcomeDeleted   Outcome = Outcome(StateDeleted)
	OutcomeFailed    Outcome = Outcome(StateFailed)
)
