package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"mastogone/pkg/auth"
	"mastogone/pkg/backup"
	"mastogone/pkg/config"
	"mastogone/pkg/filter"
	"mastogone/pkg/history"
	"mastogone/pkg/logger"
	"mastogone/pkg/mastodon"
	"mastogone/pkg/metrics"
	"mastogone/pkg/purge"
	"mastogone/pkg/ratelimit"
	"mastogone/pkg/timeline"
	"mastogone/pkg/ui"
)

var (
	// Run command flags
	apiBaseURL     string
	days           int
	matchPatterns  []string
	useRegex       bool
	afterDate      string
	beforeDate     string
	includeReplies bool
	includeReblogs bool
	previewMode    bool
	noPreview      bool
	assumeYes      bool
	batchSize      int
	cooldown       time.Duration
	backupFile     string
	noBackup       bool
	activityLog    string
	metricsFile    string
)

// runCmd is also the default action of the root command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Preview or delete posts matching the filters",
	Long: `Scan your posts from newest to oldest and delete the ones that match.

Every run starts with a preview. With --no-preview the matched posts are
listed, you are asked to confirm, and then they are deleted 30 at a time
with a 30 minute pause between batches. Each post is written to the
backup file before it is deleted.`,
	Example: `  # Show what would be deleted (default)
  mastogone --api-base-url mastodon.social --days 90

  # Delete posts older than a year that mention a keyword
  mastogone run --api-base-url mastodon.social --days 365 -m crypto --no-preview

  # Regex match, replies included, inside a date range
  mastogone run --days 30 --regex -m '^RT\b' --include-replies \
    --after 2022-01-01 --before 2022-12-31 --no-preview --yes`,
	Args: cobra.NoArgs,
	RunE: runPurgeCmd,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// run is the default command, so its flags live on both
	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		addRunFlags(c)
	}
}

func addRunFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&apiBaseURL, "api-base-url", "", "Mastodon instance, e.g. mastodon.social")
	f.IntVarP(&days, "days", "d", 30, "only posts older than this many days (0 disables the age cutoff)")
	f.StringArrayVarP(&matchPatterns, "match", "m", nil, "only posts containing this text (repeatable)")
	f.BoolVar(&useRegex, "regex", false, "treat --match values as regular expressions")
	f.StringVar(&afterDate, "after", "", "only posts created on or after this date (YYYY-MM-DD)")
	f.StringVar(&beforeDate, "before", "", "only posts created on or before this date (YYYY-MM-DD)")
	f.BoolVar(&includeReplies, "include-replies", false, "also delete replies")
	f.BoolVar(&includeReblogs, "include-reblogs", false, "also delete reblogs")
	f.BoolVar(&previewMode, "preview", false, "only list matching posts (default)")
	f.BoolVar(&noPreview, "no-preview", false, "delete matching posts after confirmation")
	f.BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	f.IntVar(&batchSize, "delete-batch-size", 30, "deletions per batch before pausing")
	f.DurationVar(&cooldown, "cooldown", 30*time.Minute, "pause between batches")
	f.StringVar(&backupFile, "backup-file", "", "JSONL file receiving each post before deletion")
	f.BoolVar(&noBackup, "no-backup", false, "do not back up posts before deleting them")
	f.StringVarP(&activityLog, "log-file", "l", "", "text log of matched posts")
	f.StringVar(&metricsFile, "metrics-textfile", "", "write Prometheus metrics to this file after the run")

	c.MarkFlagsMutuallyExclusive("preview", "no-preview")
}

// runFlags collects the run flags the user actually set
func runFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	f := cmd.Flags()

	if f.Changed("api-base-url") {
		flags["api-base-url"] = apiBaseURL
	}
	if f.Changed("days") {
		flags["days"] = days
	}
	if f.Changed("match") {
		flags["match"] = matchPatterns
	}
	if f.Changed("regex") {
		flags["regex"] = useRegex
	}
	if f.Changed("after") {
		flags["after"] = afterDate
	}
	if f.Changed("before") {
		flags["before"] = beforeDate
	}
	if f.Changed("include-replies") {
		flags["include-replies"] = includeReplies
	}
	if f.Changed("include-reblogs") {
		flags["include-reblogs"] = includeReblogs
	}
	if f.Changed("no-preview") {
		flags["preview"] = !noPreview
	}
	if f.Changed("preview") {
		flags["preview"] = previewMode
	}
	if f.Changed("delete-batch-size") {
		flags["delete-batch-size"] = batchSize
	}
	if f.Changed("cooldown") {
		flags["cooldown"] = cooldown
	}
	if f.Changed("backup-file") {
		flags["backup-file"] = backupFile
	}
	if f.Changed("no-backup") {
		flags["no-backup"] = noBackup
	}
	if f.Changed("log-file") {
		flags["log-file"] = activityLog
	}
	if f.Changed("metrics-textfile") {
		flags["metrics-textfile"] = metricsFile
	}
	return flags
}

func runPurgeCmd(cmd *cobra.Command, args []string) error {
	stdin := bufio.NewReader(os.Stdin)

	var ask func(string) (string, error)
	if stdinIsTerminal() {
		ask = askFrom(stdin)
	}
	cfg, err := loadConfigAsking(runFlags(cmd), ask)
	if err != nil {
		return err
	}

	warnIfRoot()
	if cfg.Logging.Verbosity != config.VerbosityQuiet {
		ui.PrintLogo()
	}

	tokens, err := auth.NewManager()
	if err != nil {
		logger.WithError(err).Warn("Credential stores unavailable")
		tokens = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &purgeRunner{
		cfg: cfg,
		out: ui.Out,
		tokens: &tokenResolver{
			tokens: tokens,
			prompt: readSecret,
			log:    logger.GetLogger(),
		},
		confirm:   confirmFrom(stdin),
		assumeYes: assumeYes,
		log:       logger.GetLogger(),
	}

	_, err = r.run(ctx)
	return err
}

// purgeRunner drives one invocation: preview pass, confirmation, execute pass
type purgeRunner struct {
	cfg       *config.Config
	out       io.Writer
	tokens    *tokenResolver
	confirm   func(question string) (bool, error)
	assumeYes bool
	log       logger.Logger

	// sleep replaces the cooldown timer, used by tests
	sleep ratelimit.Sleeper
	// historyDir overrides the data directory, used by tests
	historyDir string
	now        func() time.Time
}

func (r *purgeRunner) run(ctx context.Context) (*purge.Summary, error) {
	cfg := r.cfg
	if r.now == nil {
		r.now = time.Now
	}

	token, source, err := r.tokens.resolve(cfg)
	if err != nil {
		printNoTokenHelp(cfg.Instance.BaseURL)
		return nil, withCode(ExitNoToken, nil)
	}
	cfg.Instance.AccessToken = token
	logger.RegisterSecret(token)
	r.log.WithField("source", source).Debug("Access token resolved")

	if err := cfg.CheckDeleteAllowed(); err != nil {
		return nil, withCode(ExitRefused, err)
	}

	matcher, err := filter.FromConfig(&cfg.Filter, r.now())
	if err != nil {
		return nil, withCode(ExitFailures, err)
	}

	client, err := mastodon.NewClient(&cfg.Instance, r.log)
	if err != nil {
		return nil, withCode(ExitFailures, err)
	}

	account, err := purge.Authenticate(ctx, client)
	if err != nil {
		return nil, withCode(ExitFailures, err)
	}
	if !r.quiet() {
		ui.PrintInfo("Account", "@"+account.Acct)
	}
	r.log.WithFields(map[string]interface{}{
		"account":  account.Acct,
		"instance": client.BaseURL(),
		"filters":  matcher.Describe(),
	}).Info("Authenticated")

	// The preview pass is always made first
	preview, err := r.pass(ctx, client, account, matcher, true)
	if err != nil || cfg.Run.Preview {
		r.finish(client, account, matcher, preview, err)
		return preview, r.exitFor(preview, err)
	}

	if preview.Previewed == 0 {
		ui.PrintSuccess("No posts matched the criteria.")
		return preview, nil
	}

	if !r.assumeYes {
		ok, err := r.confirm(fmt.Sprintf("Delete %d posts from @%s? This cannot be undone.", preview.Previewed, account.Acct))
		if err != nil {
			return preview, withCode(ExitUnexpected, err)
		}
		if !ok {
			ui.PrintWarning("Aborted, nothing was deleted")
			return preview, nil
		}
	}

	summary, err := r.pass(ctx, client, account, matcher, false)
	r.finish(client, account, matcher, summary, err)
	return summary, r.exitFor(summary, err)
}

// quiet reports whether only errors, progress and the summary are shown
func (r *purgeRunner) quiet() bool {
	return r.cfg.Logging.Verbosity == config.VerbosityQuiet
}

// pass walks the timeline once in the given mode
func (r *purgeRunner) pass(ctx context.Context, client *mastodon.Client, account *mastodon.Account, matcher *filter.Matcher, preview bool) (*purge.Summary, error) {
	cfg := r.cfg
	runID := uuid.NewString()
	log := r.log.WithField("run_id", runID)

	walker := timeline.New(client, account.ID, timeline.Options{
		PageSize:          cfg.Run.PageSize,
		RequestsPerMinute: cfg.Run.ListRequestsPerMinute,
		FetchRetries:      cfg.Run.FetchRetries,
		Logger:            log,
	})

	progress := ui.NewProgress(r.out, preview, cfg.Run.BatchSize)
	defer progress.Finish()
	rec := metrics.New()

	opts := purge.Options{
		Preview: preview,
		RunID:   runID,
		Logger:  log,
		Now:     r.now,
		Observer: func(e purge.Event) {
			progress.Observe(e)
			rec.ObservePost(e)
		},
	}

	// A pass in delete mode keeps its own log; a preview pass made before
	// deleting does not write one.
	if preview == cfg.Run.Preview {
		journal, err := backup.OpenActivityLog(cfg.ActivityLogFile())
		if err != nil {
			return nil, withCode(ExitFileError, err)
		}
		defer journal.Close()
		opts.Journal = journal
	}

	var (
		deleter  purge.Deleter
		throttle purge.Throttle
	)
	if !preview {
		if cfg.Backup.Enabled {
			sink, err := backup.Open(cfg.Backup.File, runID)
			if err != nil {
				return nil, withCode(ExitFileError, err)
			}
			defer sink.Close()
			opts.Backup = sink
			if !r.quiet() {
				ui.PrintInfo("Backup", sink.Path())
			}
		} else {
			log.Warn("Backups disabled")
			if !r.quiet() {
				ui.PrintWarning("Backups disabled, deleted posts cannot be recovered")
			}
		}

		schedOpts := []ratelimit.Option{
			ratelimit.WithLogger(log),
			ratelimit.WithObserver(func(e ratelimit.Event) {
				progress.ObservePause(e)
				rec.ObservePause(e)
			}),
		}
		if r.sleep != nil {
			schedOpts = append(schedOpts, ratelimit.WithSleeper(r.sleep))
		}
		sched, err := ratelimit.New(cfg.Run.BatchSize, cfg.Run.Cooldown, schedOpts...)
		if err != nil {
			return nil, withCode(ExitFailures, err)
		}
		deleter, throttle = client, sched
	}

	orch, err := purge.New(walker, matcher, deleter, throttle, opts)
	if err != nil {
		return nil, withCode(ExitUnexpected, err)
	}

	summary, runErr := orch.Run(ctx)
	progress.Finish()
	ui.PrintSummary(r.out, summary)

	rec.ObserveRun(summary, runErr)
	if cfg.Metrics.Textfile != "" && (!preview || cfg.Run.Preview) {
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.WithError(err).Warn("Failed to write metrics textfile")
		}
	}

	if preview && summary.Previewed == 0 && runErr == nil && cfg.Run.Preview {
		ui.PrintSuccess("No posts matched the criteria.")
	}
	return summary, runErr
}

// finish records the run in the history file
func (r *purgeRunner) finish(client *mastodon.Client, account *mastodon.Account, matcher *filter.Matcher, s *purge.Summary, runErr error) {
	if s == nil {
		return
	}

	var (
		hm  *history.Manager
		err error
	)
	if r.historyDir != "" {
		hm = history.NewManagerAt(r.historyDir, client.BaseURL())
	} else if hm, err = history.NewManager(client.BaseURL()); err != nil {
		r.log.WithError(err).Warn("Run history unavailable")
		return
	}
	hm.SetLogger(r.log)

	entry := history.Entry{
		Instance: client.BaseURL(),
		Account:  account.Acct,
		Filters:  matcher.Describe(),
		Summary:  *s,
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if err := hm.Append(entry); err != nil {
		r.log.WithError(err).Warn("Failed to record run history")
	}
}

// exitFor turns a finished pass into the command's error
func (r *purgeRunner) exitFor(s *purge.Summary, runErr error) error {
	if runErr != nil {
		var ee *exitError
		if errors.As(runErr, &ee) {
			return runErr
		}
		if errors.Is(runErr, purge.ErrInterrupted) {
			ui.PrintWarning("Interrupted, partial results above")
		}
		return withCode(ExitFailures, runErr)
	}
	if s != nil && s.HasFailures() {
		ui.PrintWarning(fmt.Sprintf("%d posts could not be deleted", s.Failed))
		return withCode(ExitFailures, nil)
	}
	return nil
}
