package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"mastogone/pkg/config"
)

// Process exit codes
const (
	ExitOK          = 0
	ExitFailures    = 1
	ExitRefused     = 2
	ExitFileError   = 3
	ExitNoToken     = 4
	ExitTokenOnArgs = 5
	ExitUnexpected  = 99
)

// exitError carries a process exit code through cobra's RunE
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCode maps an error returned by a command to a process exit code
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, config.ErrTooRecent) {
		return ExitRefused
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return ExitFileError
	}
	return ExitFailures
}

// tokenOnCommandLine reports whether args try to pass the access token as a flag
func tokenOnCommandLine(args []string) bool {
	for _, a := range args {
		if a == "--" {
			return false
		}
		if a == "-p" || a == "--token" || strings.HasPrefix(a, "--token=") || strings.HasPrefix(a, "-p=") {
			return true
		}
	}
	return false
}
