package backup

import (
	"fmt"
	"os"
	"strings"
	"sync"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"mastogone/pkg/models"
	"mastogone/pkg/storage"
)

// ActivityLog is the human readable list of matched posts written next to
// the backup: preview_log.txt for previews, deleted_statuses_log.txt otherwise.
//
//	2024-01-02 03:04:05 UTC  post text rendered as markdown
//	---
type ActivityLog struct {
	path      string
	converter *md.Converter

	mu   sync.Mutex
	file *os.File
}

// OpenActivityLog opens path owner-only in append mode
func OpenActivityLog(path string) (*ActivityLog, error) {
	f, err := storage.OpenAppend(path)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}

	converter := md.NewConverter("", true, &md.Options{
		EmDelimiter:     "*",
		StrongDelimiter: "**",
		LinkStyle:       "inlined",
	})

	return &ActivityLog{path: path, converter: converter, file: f}, nil
}

// Path returns the log location
func (a *ActivityLog) Path() string {
	return a.path
}

// Write appends one entry for p
func (a *ActivityLog) Write(p *models.Post) error {
	entry := fmt.Sprintf("%s UTC  %s\n---\n", p.CreatedAt.UTC().Format("2006-01-02 15:04:05"), a.render(p))

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return ErrClosed
	}
	if _, err := a.file.WriteString(entry); err != nil {
		return fmt.Errorf("write activity log: %w", err)
	}
	return nil
}

// render converts the status HTML to single-line markdown, falling back to
// the plain text when conversion fails.
func (a *ActivityLog) render(p *models.Post) string {
	text := p.Content
	if p.HTML != "" {
		if out, err := a.converter.ConvertString(p.HTML); err == nil {
			text = out
		}
	}
	return strings.Join(strings.Fields(text), " ")
}

// Close releases the file
func (a *ActivityLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
