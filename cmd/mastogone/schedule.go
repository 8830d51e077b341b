package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"mastogone/pkg/auth"
	"mastogone/pkg/logger"
	"mastogone/pkg/ui"
)

var (
	cronSpec string
	notify   bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run on a cron schedule until interrupted",
	Long: `Run mastogone repeatedly on a cron schedule.

The schedule uses the standard five field cron syntax and is taken from
--cron or schedule.cron in the configuration file. A run that is still
going when the next one is due (for example during a batch cooldown) is
not started twice. Scheduled deletion requires --yes.`,
	Example: `  # Preview every Sunday at 03:00
  mastogone schedule --cron "0 3 * * 0"

  # Delete old posts every night and show a desktop notification
  mastogone schedule --cron "@daily" --days 180 --no-preview --yes --notify`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	addRunFlags(scheduleCmd)
	scheduleCmd.Flags().StringVar(&cronSpec, "cron", "", "cron expression (default from schedule.cron)")
	scheduleCmd.Flags().BoolVar(&notify, "notify", false, "show a desktop notification after each run")
}

// cronLogger adapts the application logger to cron.Logger
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.DebugWithFields(msg, kvFields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.WithError(err).ErrorWithFields(msg, kvFields(keysAndValues))
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

func runSchedule(cmd *cobra.Command, args []string) error {
	flags := runFlags(cmd)
	if cmd.Flags().Changed("cron") {
		flags["cron"] = cronSpec
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if cfg.Schedule.Cron == "" {
		return withCode(ExitFailures, fmt.Errorf("no schedule: use --cron or set schedule.cron"))
	}
	if !cfg.Run.Preview && !assumeYes {
		return withCode(ExitFailures, fmt.Errorf("scheduled deletion cannot ask for confirmation, add --yes"))
	}
	if err := cfg.CheckDeleteAllowed(); err != nil {
		return withCode(ExitRefused, err)
	}

	warnIfRoot()
	log := logger.GetLogger().WithField("component", "schedule")

	tokens, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Warn("Credential stores unavailable")
		tokens = nil
	}
	resolver := &tokenResolver{tokens: tokens, prompt: readSecret, log: log}

	// Resolve once so later runs never prompt
	token, _, err := resolver.resolve(cfg)
	if err != nil {
		printNoTokenHelp(cfg.Instance.BaseURL)
		return withCode(ExitNoToken, nil)
	}
	cfg.Instance.AccessToken = token
	logger.RegisterSecret(token)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notifier *ui.Notifier
	if notify {
		notifier = ui.NewNotifier()
	} else {
		notifier = ui.NewNotifierWithSender(nil)
	}

	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	job := func() {
		r := &purgeRunner{
			cfg:       cfg,
			out:       ui.Out,
			tokens:    &tokenResolver{log: log},
			confirm:   func(string) (bool, error) { return false, nil },
			assumeYes: true,
			log:       logger.GetLogger(),
		}
		summary, err := r.run(ctx)
		if ctx.Err() != nil {
			return
		}
		if summary == nil && err != nil {
			ui.PrintError("Scheduled run failed", err.Error())
			return
		}
		notifier.NotifyRun(summary, err)
	}

	id, err := c.AddFunc(cfg.Schedule.Cron, job)
	if err != nil {
		return withCode(ExitFailures, fmt.Errorf("invalid cron expression %q: %w", cfg.Schedule.Cron, err))
	}

	c.Start()
	ui.PrintInfo("Schedule", cfg.Schedule.Cron)
	ui.PrintInfo("Mode", modeName(cfg.Run.Preview))
	ui.PrintInfo("Next run", c.Entry(id).Schedule.Next(time.Now()).Local().Format("2006-01-02 15:04:05"))
	log.WithFields(map[string]interface{}{
		"cron":    cfg.Schedule.Cron,
		"preview": cfg.Run.Preview,
	}).Info("Scheduler started")

	<-ctx.Done()
	ui.PrintWarning("Stopping scheduler, waiting for the current run")
	<-c.Stop().Done()
	return nil
}
