package purge

import "time"

// Summary counts what happened during one run. It is returned even when
// the run aborts, so partial progress is always reported.
type Summary struct {
	RunID   string `json:"run_id"`
	Preview bool   `json:"preview"`

	Considered  int `json:"considered"`
	FilteredOut int `json:"filtered_out"`
	Previewed   int `json:"previewed"`
	Deleted     int `json:"deleted"`
	BackedUp    int `json:"backed_up"`
	Failed      int `json:"failed"`

	// AlreadyGone counts deletes answered with not-found; they are included in Deleted
	AlreadyGone    int `json:"already_gone"`
	BackupFailures int `json:"backup_failures"`
	BatchPauses    int `json:"batch_pauses"`
	ThrottlePauses int `json:"throttle_pauses"`
	Pages          int `json:"pages"`

	FailedIDs []string `json:"failed_ids,omitempty"`

	// Complete is true when the whole history was scanned
	Complete    bool `json:"complete"`
	Interrupted bool `json:"interrupted"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Matched returns how many posts passed the filters
func (s *Summary) Matched() int {
	if s.Preview {
		return s.Previewed
	}
	return s.Deleted + s.Failed
}

// Duration returns the wall time of the run
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// HasFailures reports whether any deletion failed
func (s *Summary) HasFailures() bool {
	return s.Failed > 0
}
