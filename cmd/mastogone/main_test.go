package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mastogone/pkg/config"
)

func TestTokenOnCommandLine(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"--days", "30"}, false},
		{[]string{"--token", "abc"}, true},
		{[]string{"--token=abc"}, true},
		{[]string{"-p", "abc"}, true},
		{[]string{"-p=abc"}, true},
		{[]string{"run", "--days", "10", "--token", "x"}, true},
		{[]string{"--match", "--", "--token"}, false},
		{[]string{"--tokens-file"}, false},
		{nil, false},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			assert.Equal(t, tt.want, tokenOnCommandLine(tt.args))
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"explicit code", withCode(ExitNoToken, nil), ExitNoToken},
		{"wrapped explicit code", fmt.Errorf("outer: %w", withCode(ExitFileError, errors.New("disk"))), ExitFileError},
		{"too recent", fmt.Errorf("%w: use --days 1", config.ErrTooRecent), ExitRefused},
		{"path error", &fs.PathError{Op: "open", Path: "x", Err: fs.ErrPermission}, ExitFileError},
		{"anything else", errors.New("boom"), ExitFailures},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	assert.Equal(t, "exit status 4", withCode(4, nil).Error())
	cause := errors.New("no backup")
	err := withCode(3, cause)
	assert.Equal(t, "no backup", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestRunFlagsOnlyIncludesChangedFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addRunFlags(cmd)

	require.NoError(t, cmd.ParseFlags([]string{
		"--api-base-url", "example.social",
		"-d", "90",
		"-m", "foo", "-m", "bar baz",
		"--no-preview",
		"--cooldown", "5m",
		"--no-backup",
	}))

	flags := runFlags(cmd)
	assert.Equal(t, "example.social", flags["api-base-url"])
	assert.Equal(t, 90, flags["days"])
	assert.Equal(t, []string{"foo", "bar baz"}, flags["match"])
	assert.Equal(t, false, flags["preview"])
	assert.Equal(t, 5*time.Minute, flags["cooldown"])
	assert.Equal(t, true, flags["no-backup"])

	assert.NotContains(t, flags, "regex")
	assert.NotContains(t, flags, "delete-batch-size")
	assert.NotContains(t, flags, "backup-file")
}

func TestRunFlagsMergeIntoConfig(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addRunFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--delete-batch-size", "10", "--no-backup", "--include-replies"}))

	cfg := config.DefaultConfig()
	cfg.MergeCommandLineFlags(runFlags(cmd))

	assert.Equal(t, 10, cfg.Run.BatchSize)
	assert.False(t, cfg.Backup.Enabled)
	assert.True(t, cfg.Filter.IncludeReplies)
	assert.True(t, cfg.Run.Preview, "preview stays the default")
}

func TestPreviewFlagsAreExclusive(t *testing.T) {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	addRunFlags(cmd)
	cmd.SetArgs([]string{"--preview", "--no-preview"})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	assert.Error(t, cmd.Execute())
}

func TestConfirmFrom(t *testing.T) {
	captureOutput(t)

	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"y", true},
	}
	for _, tt := range tests {
		ok, err := confirmFrom(strings.NewReader(tt.input))("Delete?")
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "input %q", tt.input)
	}
}

func TestAskFrom(t *testing.T) {
	captureOutput(t)

	ask := askFrom(strings.NewReader("  mastodon.social \n"))
	got, err := ask("Instance: ")
	require.NoError(t, err)
	assert.Equal(t, "mastodon.social", got)

	_, err = askFrom(strings.NewReader(""))("Instance: ")
	assert.Error(t, err)
}

func TestLoadConfigAsksForMissingInstance(t *testing.T) {
	captureOutput(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MASTOGONE_BASE_URL", "")

	asked := 0
	cfg, err := loadConfigAsking(map[string]interface{}{}, func(string) (string, error) {
		asked++
		return "mastodon.social", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, asked)
	assert.Equal(t, "https://mastodon.social", cfg.Instance.BaseURL)

	_, err = loadConfigAsking(map[string]interface{}{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrNoInstance)
	assert.Equal(t, ExitFailures, exitCode(err))

	cfg, err = loadConfigAsking(map[string]interface{}{"api-base-url": "social.example"}, func(string) (string, error) {
		t.Fatal("instance already configured")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "https://social.example", cfg.Instance.BaseURL)
}

func TestValidateExtended(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Instance.BaseURL = "https://example.social"
	assert.Empty(t, validateExtended(cfg, time.Now()))

	cfg.Filter.Regex = true
	cfg.Filter.Match = []string{"(unclosed"}
	cfg.Schedule.Cron = "every tuesday"
	problems := validateExtended(cfg, time.Now())
	assert.Len(t, problems, 2)
	assert.Contains(t, problems[1], "every tuesday")
}

func TestKVFields(t *testing.T) {
	fields := kvFields([]interface{}{"entry", 1, "next", "soon", "dangling"})
	assert.Equal(t, map[string]interface{}{"entry": 1, "next": "soon"}, fields)
}

func TestModeName(t *testing.T) {
	assert.Equal(t, "preview", modeName(true))
	assert.Equal(t, "delete", modeName(false))
}
