package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"mastogone/pkg/history"
	"mastogone/pkg/mastodon"
	"mastogone/pkg/ui"
)

var (
	historyLimit int
	historyClear bool
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [instance]",
	Short: "Show past runs",
	Long: `Show the summaries of past runs against an instance, newest first.

The history is kept in the data directory (~/.local/share/mastogone) and
holds at most 50 runs per instance.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of runs to show")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "delete the history")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print the raw entries as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	instance, err := instanceFromArgs(args)
	if err != nil {
		return err
	}

	hm, err := history.NewManager(mastodon.NormalizeBaseURL(instance))
	if err != nil {
		return withCode(ExitFileError, err)
	}

	if historyClear {
		if err := hm.Clear(); err != nil {
			return withCode(ExitFileError, err)
		}
		ui.PrintSuccess("History cleared for " + instance)
		return nil
	}

	h, err := hm.Load()
	if err != nil {
		return withCode(ExitFileError, err)
	}
	if h == nil || len(h.Entries) == 0 {
		ui.PrintWarning("No runs recorded for " + instance)
		return nil
	}

	entries := h.Entries
	if historyLimit > 0 && len(entries) > historyLimit {
		entries = entries[:historyLimit]
	}

	if historyJSON {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return withCode(ExitUnexpected, err)
		}
		fmt.Fprintln(ui.Out, string(data))
		return nil
	}

	ui.PrintInfo("Instance", h.Instance)
	for _, e := range entries {
		s := e.Summary
		mode := modeName(s.Preview)
		fmt.Fprintf(ui.Out, "\n%s  %s  @%s\n",
			ui.Bold(s.StartedAt.Local().Format("2006-01-02 15:04")), mode, e.Account)
		if s.Preview {
			fmt.Fprintf(ui.Out, "  scanned %d, would delete %d\n", s.Considered, s.Previewed)
		} else {
			fmt.Fprintf(ui.Out, "  scanned %d, deleted %d, failed %d, backed up %d\n",
				s.Considered, s.Deleted, s.Failed, s.BackedUp)
		}
		if e.Error != "" {
			fmt.Fprintf(ui.Out, "  %s\n", ui.Red(e.Error))
		}
	}
	return nil
}
