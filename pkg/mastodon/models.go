package mastodon

import (
	"encoding/json"
	"time"
)

// Account is the subset of the account entity the tool needs
type Account struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Acct          string `json:"acct"`
	URL           string `json:"url"`
	StatusesCount int    `json:"statuses_count"`
}

// Status is a Mastodon status entity. Unknown fields survive in Raw.
type Status struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Content     string    `json:"content"`
	URL         string    `json:"url"`
	Visibility  string    `json:"visibility"`
	InReplyToID *string   `json:"in_reply_to_id"`
	Reblog      *Status   `json:"reblog"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the status and keeps a copy of the original bytes
func (s *Status) UnmarshalJSON(data []byte) error {
	type plain Status
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Status(p)
	s.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// IsReply reports whether the status answers another status
func (s *Status) IsReply() bool {
	return s.InReplyToID != nil && *s.InReplyToID != ""
}

// IsReblog reports whether the status is a boost of someone else's post
func (s *Status) IsReblog() bool {
	return s.Reblog != nil
}

// Page is one page of an account's statuses
type Page struct {
	Statuses []Status
	// NextMaxID is the cursor for the next (older) page, empty at the end
	NextMaxID string
}

// apiError is the error body Mastodon returns
type apiError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}
