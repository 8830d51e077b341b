package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"mastogone/pkg/config"
	"mastogone/pkg/ui"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ui.PrintInfo("mastogone", config.Version)
		fmt.Fprintf(ui.Out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(ui.Out, "Built:      %s\n", buildDate)
		fmt.Fprintf(ui.Out, "Go Version: %s\n", runtime.Version())
		fmt.Fprintf(ui.Out, "OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
