package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"mastogone/pkg/config"
	"mastogone/pkg/logger"
	"mastogone/pkg/ui"
)

var (
	// Version information, set at build time
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFormat  string
	noColor    bool
	quiet      bool
	verbose    bool
)

// rootCmd represents the base command. Without a subcommand it runs a purge.
var rootCmd = &cobra.Command{
	Use:   "mastogone",
	Short: "Delete or preview Mastodon posts older than N days",
	Long: `mastogone deletes your own Mastodon posts older than a number of days.

Features:
  - Preview first: nothing is deleted without confirmation
  - Filter by keyword or regex, date range, replies and reblogs
  - Stays under the instance quota of 30 deletions per 30 minutes
  - Backs up every deleted post to an owner-only JSONL file
  - Token kept in the system keychain or an encrypted file

SECURITY: the access token is never accepted as a command line argument.
Use MASTOGONE_TOKEN, 'mastogone auth login', or enter it when prompted.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", config.Version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.SetColor(false)
		}
	},
	RunE: runPurgeCmd,
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	err := rootCmd.Execute()
	code := exitCode(err)
	if err != nil {
		var ee *exitError
		// exit errors without a cause were already reported
		if !errors.As(err, &ee) || ee.err != nil {
			ui.PrintError("Error", err.Error())
		}
	}
	return code
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default .mastogone.yaml or ~/.config/mastogone/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only errors, progress and the final summary")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "include request and response detail")

	rootCmd.SetVersionTemplate(`mastogone version {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags returns the persistent flags in the form config.Load expects
func globalFlags() map[string]interface{} {
	flags := make(map[string]interface{})
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	switch {
	case quiet:
		flags["verbosity"] = config.VerbosityQuiet
	case verbose:
		flags["verbosity"] = config.VerbosityVerbose
	}
	return flags
}

// loadConfig loads configuration and initializes the global logger
func loadConfig(flags map[string]interface{}) (*config.Config, error) {
	for k, v := range globalFlags() {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, withCode(ExitFileError, err)
		}
		return nil, withCode(ExitFailures, err)
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, withCode(ExitFileError, fmt.Errorf("failed to initialize logger: %w", err))
	}
	return cfg, nil
}

// warnIfRoot mirrors the usual advice against running user tools as root
func warnIfRoot() {
	if runtime.GOOS != "windows" && os.Geteuid() == 0 {
		ui.PrintWarning("Running as root is not recommended")
	}
}
