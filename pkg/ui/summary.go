package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"mastogone/pkg/purge"
)

// FormatSummary renders the end-of-run block
func FormatSummary(s *purge.Summary) string {
	var b strings.Builder

	title := "RUN SUMMARY"
	if s.Preview {
		title = "PREVIEW SUMMARY"
	}
	b.WriteString(Bold(title) + "\n")
	b.WriteString(strings.Repeat("─", 40) + "\n")

	row := func(label string, value int) {
		fmt.Fprintf(&b, "  %-14s %s\n", label, Yellow(fmt.Sprint(value)))
	}
	row("considered", s.Considered)
	row("filtered out", s.FilteredOut)
	if s.Preview {
		row("would delete", s.Previewed)
	} else {
		row("deleted", s.Deleted)
		row("backed up", s.BackedUp)
		if s.Failed > 0 {
			fmt.Fprintf(&b, "  %-14s %s\n", "failed", Red(fmt.Sprint(s.Failed)))
		} else {
			row("failed", s.Failed)
		}
		if s.BatchPauses+s.ThrottlePauses > 0 {
			fmt.Fprintf(&b, "  %-14s %d batch, %d throttled\n", "pauses", s.BatchPauses, s.ThrottlePauses)
		}
	}
	fmt.Fprintf(&b, "  %-14s %s\n", "duration", s.Duration().Round(time.Second))

	switch {
	case s.Interrupted:
		b.WriteString(Yellow("  interrupted before the whole history was scanned") + "\n")
	case !s.Complete:
		b.WriteString(Red("  history scan incomplete, run again to finish") + "\n")
	}
	if len(s.FailedIDs) > 0 {
		b.WriteString(Dim("  failed ids: "+strings.Join(s.FailedIDs, ", ")) + "\n")
	}
	return b.String()
}

// PrintSummary writes the summary block to w
func PrintSummary(w io.Writer, s *purge.Summary) {
	fmt.Fprint(w, FormatSummary(s))
}
