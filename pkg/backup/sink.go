package backup

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"mastogone/pkg/models"
	"mastogone/pkg/storage"
)

// Record is one line of the backup file
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	// DeletedAt is when the record was written, just before the delete
	// request. It does not confirm the server accepted the deletion.
	DeletedAt time.Time `json:"deleted_at"`
	Content   string    `json:"content"`
	URL       string    `json:"url,omitempty"`
	IsReply   bool      `json:"is_reply"`
	IsReblog  bool      `json:"is_reblog"`
	RunID     string    `json:"run_id,omitempty"`

	// Status is the full status as returned by the server
	Status json.RawMessage `json:"status,omitempty"`
}

// ErrClosed is returned when recording into a closed sink
var ErrClosed = errors.New("backup sink is closed")

// syncFile is the part of *os.File the sink writes through
type syncFile interface {
	io.WriteCloser
	Sync() error
}

// Sink appends deleted posts to a newline-delimited JSON file
type Sink struct {
	path  string
	runID string
	now   func() time.Time

	mu     sync.Mutex
	file   syncFile
	count  int
	closed bool
}

// Open opens (or creates) the backup file owner-only in append mode
func Open(path, runID string) (*Sink, error) {
	f, err := storage.OpenAppend(path)
	if err != nil {
		return nil, fmt.Errorf("open backup file: %w", err)
	}
	return &Sink{
		path:  path,
		runID: runID,
		now:   time.Now,
		file:  f,
	}, nil
}

// Path returns the backup file location
func (s *Sink) Path() string {
	return s.path
}

// Record appends one post and syncs it to disk before returning, so the
// post is on disk before its delete request goes out. Each record is a
// single write so a crash cannot leave half a line followed by another.
func (s *Sink) Record(p *models.Post) error {
	rec := Record{
		ID:        p.ID,
		CreatedAt: p.CreatedAt.UTC(),
		DeletedAt: s.now().UTC(),
		Content:   p.Content,
		URL:       p.URL,
		IsReply:   p.IsReply,
		IsReblog:  p.IsReblog,
		RunID:     s.runID,
	}
	if json.Valid(p.Raw) {
		rec.Status = p.Raw
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode backup record %s: %w", p.ID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("write backup record %s: %w", p.ID, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync backup record %s: %w", p.ID, err)
	}
	s.count++
	return nil
}

// Count returns how many records this sink wrote
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close syncs and releases the file. It is safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	return errors.Join(syncErr, closeErr)
}

// ReadAll loads every record from a backup file
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return records, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
