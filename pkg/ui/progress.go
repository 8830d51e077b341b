package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"mastogone/pkg/purge"
	"mastogone/pkg/ratelimit"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// Progress renders a single self-overwriting status line. It is printed at
// every verbosity, quiet included.
type Progress struct {
	mu        sync.Mutex
	w         io.Writer
	preview   bool
	batchSize int
	inBatch   int
	last      purge.Summary
	startTime time.Time
	dirty     bool
}

// NewProgress creates a progress line writing to w
func NewProgress(w io.Writer, preview bool, batchSize int) *Progress {
	return &Progress{
		w:         w,
		preview:   preview,
		batchSize: batchSize,
		startTime: time.Now(),
	}
}

// Observe updates the line after each post
func (p *Progress) Observe(e purge.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.last = e.Summary
	if e.Outcome == purge.OutcomeDeleted {
		p.inBatch++
	}
	p.render()
}

// ObservePause prints a line announcing a cooldown
func (p *Progress) ObservePause(e ratelimit.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearLine()
	label := "[BATCH PAUSE]"
	if e.Reason == ratelimit.ReasonThrottled {
		label = "[THROTTLED]"
	}
	fmt.Fprintf(p.w, "%s cooling down for %s, resuming at %s\n",
		Yellow(label),
		e.Duration.Round(time.Second),
		e.Until.Local().Format("15:04:05"))
	p.inBatch = 0
}

// Finish ends the progress line
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dirty {
		fmt.Fprintln(p.w)
		p.dirty = false
	}
}

// BatchBar returns a bar of deletions in the current batch
func (p *Progress) BatchBar() string {
	const width = 20
	if p.batchSize <= 0 {
		return ""
	}
	filled := p.inBatch * width / p.batchSize
	if filled > width {
		filled = width
	}
	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, width-filled)
	return fmt.Sprintf("[%s] %d/%d", bar, p.inBatch, p.batchSize)
}

// Rate returns matched posts handled per minute
func (p *Progress) Rate() float64 {
	elapsed := time.Since(p.startTime).Minutes()
	if elapsed == 0 {
		return 0
	}
	return float64(p.last.Deleted+p.last.Previewed) / elapsed
}

func (p *Progress) render() {
	s := p.last
	if p.preview {
		fmt.Fprintf(p.w, "\r%s scanned %d | would delete %d | kept %d",
			Cyan("[PREVIEW]"), s.Considered, s.Previewed, s.FilteredOut)
	} else {
		fmt.Fprintf(p.w, "\r%s scanned %d | deleted %d | failed %d | batch %s",
			Green("[DELETING]"), s.Considered, s.Deleted, s.Failed, p.BatchBar())
	}
	p.dirty = true
}

func (p *Progress) clearLine() {
	if p.dirty {
		fmt.Fprint(p.w, "\r\033[K")
		p.dirty = false
	}
}
