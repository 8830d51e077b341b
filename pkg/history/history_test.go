package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mastogone/pkg/logger"
	"mastogone/pkg/purge"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManagerAt(t.TempDir(), "https://mastodon.example")
	m.SetLogger(logger.NewNopLogger())
	return m
}

func TestHistoryManager(t *testing.T) {
	t.Run("EmptyLoad", func(t *testing.T) {
		m := newTestManager(t)
		h, err := m.Load()
		require.NoError(t, err)
		assert.Nil(t, h)
		assert.False(t, m.Exists())

		last, err := m.Last()
		require.NoError(t, err)
		assert.Nil(t, last)
	})

	t.Run("AppendAndLoad", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.Append(Entry{Account: "alice", Summary: purge.Summary{RunID: "a", Deleted: 3}}))
		require.NoError(t, m.Append(Entry{Account: "alice", Summary: purge.Summary{RunID: "b", Preview: true, Previewed: 7}}))

		h, err := m.Load()
		require.NoError(t, err)
		require.NotNil(t, h)
		require.Len(t, h.Entries, 2)
		assert.Equal(t, "b", h.Entries[0].Summary.RunID, "newest first")
		assert.Equal(t, "https://mastodon.example", h.Entries[0].Instance)
		assert.Equal(t, 1, h.Version)

		last, err := m.Last()
		require.NoError(t, err)
		assert.Equal(t, 7, last.Summary.Previewed)
	})

	t.Run("OwnerOnlyPermissions", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.Append(Entry{Summary: purge.Summary{StartedAt: time.Now()}}))

		info, err := os.Stat(m.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("CapsEntries", func(t *testing.T) {
		m := newTestManager(t)
		for i := 0; i < MaxEntries+5; i++ {
			require.NoError(t, m.Append(Entry{Summary: purge.Summary{Deleted: i}}))
		}
		h, err := m.Load()
		require.NoError(t, err)
		assert.Len(t, h.Entries, MaxEntries)
		assert.Equal(t, MaxEntries+4, h.Entries[0].Summary.Deleted)
	})

	t.Run("CorruptFileIsReplaced", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(m.Path()), 0o700))
		require.NoError(t, os.WriteFile(m.Path(), []byte("{not json"), 0o600))

		_, err := m.Load()
		assert.Error(t, err)

		require.NoError(t, m.Append(Entry{Account: "bob"}))
		h, err := m.Load()
		require.NoError(t, err)
		assert.Len(t, h.Entries, 1)
	})

	t.Run("Clear", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.Append(Entry{}))
		require.True(t, m.Exists())
		require.NoError(t, m.Clear())
		assert.False(t, m.Exists())
		assert.NoError(t, m.Clear(), "clearing twice is fine")
	})
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "mastodon.social.history.json", fileName("https://mastodon.social"))
	assert.Equal(t, "mastodon.social_sub.history.json", fileName("https://Mastodon.Social/sub/"))
	assert.Equal(t, "default.history.json", fileName(""))
}

func TestNewManagerUsesDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	m, err := NewManager("https://fosstodon.org")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mastogone", "history", "fosstodon.org.history.json"), m.Path())
}
