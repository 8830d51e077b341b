// Package models holds the records shared between the timeline walker,
// the filter engine and the backup sink.
package models

import (
	"encoding/json"
	"time"
)

// Post is one status from the authenticated account's history. It is
// built once from the API response and never modified afterwards.
type Post struct {
	ID string
	// CreatedAt is always UTC
	CreatedAt time.Time
	// Content is the status text with HTML stripped
	Content string
	// HTML is the content as the server returned it
	HTML       string
	URL        string
	Visibility string
	IsReply    bool
	IsReblog   bool

	// Raw is the full status JSON, kept for the backup file
	Raw json.RawMessage
}

// Age returns how old the post is relative to now
func (p *Post) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}
