package main

import (
	"fmt"
	"os"

	"mastogone/pkg/config"
	"mastogone/pkg/ui"
)

func main() {
	if tokenOnCommandLine(os.Args[1:]) {
		ui.PrintError("Passing the token via --token/-p is disabled for security")
		fmt.Fprintf(os.Stderr, "Use the %s environment variable, 'mastogone auth login', or enter it when prompted.\n", config.TokenEnv)
		os.Exit(ExitTokenOnArgs)
	}

	os.Exit(Execute())
}
