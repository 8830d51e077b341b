package history

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wasilibs/go-re2"
	"mastogone/pkg/logger"
	"mastogone/pkg/purge"
	"mastogone/pkg/storage"
)

// MaxEntries is how many runs are kept per instance
const MaxEntries = 50

// Entry describes one finished run
type Entry struct {
	Instance string                 `json:"instance"`
	Account  string                 `json:"account"`
	Filters  map[string]interface{} `json:"filters,omitempty"`
	Summary  purge.Summary          `json:"summary"`
	Error    string                 `json:"error,omitempty"`
}

// History is the on-disk document, newest entry first
type History struct {
	Instance  string    `json:"instance"`
	Entries   []Entry   `json:"entries"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Manager reads and writes the history of one instance
type Manager struct {
	path     string
	instance string
	logger   logger.Logger
}

// NewManager creates a manager in the default data directory
func NewManager(instance string) (*Manager, error) {
	dataDir, err := storage.DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}
	return NewManagerAt(filepath.Join(dataDir, "history"), instance), nil
}

// NewManagerAt creates a manager storing files under dir
func NewManagerAt(dir, instance string) *Manager {
	return &Manager{
		path:     filepath.Join(dir, fileName(instance)),
		instance: instance,
		logger:   logger.GetLogger(),
	}
}

// SetLogger replaces the manager's logger
func (m *Manager) SetLogger(l logger.Logger) {
	m.logger = l
}

var unsafeChars = re2.MustCompile(`[^A-Za-z0-9._-]+`)

// fileName maps an instance URL to a stable file name
func fileName(instance string) string {
	name := instance
	if u, err := url.Parse(instance); err == nil && u.Host != "" {
		name = u.Host + u.Path
	}
	name = strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if name == "" {
		name = "default"
	}
	return name + ".history.json"
}

// Path returns the history file location
func (m *Manager) Path() string {
	return m.path
}

// Exists checks if a history file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Load reads the history. It returns nil, nil when nothing was recorded yet.
func (m *Manager) Load() (*History, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return &h, nil
}

// Append records a finished run, dropping the oldest entries past MaxEntries
func (m *Manager) Append(e Entry) error {
	h, err := m.Load()
	if err != nil {
		// A corrupt file is replaced rather than blocking future runs
		m.logger.WithError(err).Warn("Discarding unreadable history")
		h = nil
	}
	if h == nil {
		h = &History{Instance: m.instance, Version: 1}
	}

	if e.Instance == "" {
		e.Instance = m.instance
	}
	h.Entries = append([]Entry{e}, h.Entries...)
	if len(h.Entries) > MaxEntries {
		h.Entries = h.Entries[:MaxEntries]
	}
	h.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := storage.WriteAtomic(m.path, data); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}

	m.logger.DebugWithFields("History saved", map[string]interface{}{
		"instance": m.instance,
		"entries":  len(h.Entries),
		"path":     m.path,
	})
	return nil
}

// Last returns the most recent entry, or nil if there is none
func (m *Manager) Last() (*Entry, error) {
	h, err := m.Load()
	if err != nil || h == nil || len(h.Entries) == 0 {
		return nil, err
	}
	return &h.Entries[0], nil
}

// Clear removes the history file
func (m *Manager) Clear() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	m.logger.Info("History cleared")
	return nil
}
