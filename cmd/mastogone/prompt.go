package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
	"mastogone/pkg/auth"
	"mastogone/pkg/config"
	"mastogone/pkg/logger"
	"mastogone/pkg/ui"
)

// errNoToken means no access token could be found or prompted for
var errNoToken = errors.New("no access token available")

// stdinIsTerminal reports whether prompts can be shown
func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// readSecret reads a line from the terminal without echo
func readSecret(label string) (string, error) {
	if !stdinIsTerminal() {
		return "", errNoToken
	}
	fmt.Fprint(ui.Out, label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(ui.Out)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// confirmFrom returns a yes/no prompt reading answers from r
func confirmFrom(r io.Reader) func(question string) (bool, error) {
	reader := bufio.NewReader(r)
	return func(question string) (bool, error) {
		fmt.Fprintf(ui.Out, "%s [y/N]: ", question)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// askFrom returns a prompt reading a visible line from r
func askFrom(r io.Reader) func(label string) (string, error) {
	reader := bufio.NewReader(r)
	return func(label string) (string, error) {
		fmt.Fprint(ui.Out, label)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
}

// loadConfigAsking loads configuration and, when no instance is configured
// and ask is set, asks for one and loads again
func loadConfigAsking(flags map[string]interface{}, ask func(label string) (string, error)) (*config.Config, error) {
	cfg, err := loadConfig(flags)
	if err == nil || ask == nil || !errors.Is(err, config.ErrNoInstance) {
		return cfg, err
	}

	instance, askErr := ask("Mastodon instance (e.g. mastodon.social): ")
	if askErr != nil || instance == "" {
		return nil, err
	}
	flags["api-base-url"] = instance
	return loadConfig(flags)
}

// tokenResolver finds the access token for an instance. The order is the
// environment, then stored credentials, then an interactive prompt.
type tokenResolver struct {
	tokens *auth.Manager
	prompt func(label string) (string, error)
	log    logger.Logger
}

// resolve returns the token and a description of where it came from. The
// token itself is never logged.
func (r *tokenResolver) resolve(cfg *config.Config) (string, string, error) {
	if cfg.Instance.AccessToken != "" {
		return cfg.Instance.AccessToken, "environment", nil
	}

	if r.tokens != nil {
		cred, store, err := r.tokens.Retrieve(cfg.Instance.BaseURL)
		if err == nil && cred.Token != "" {
			return cred.Token, store, nil
		}
		if err != nil && !errors.Is(err, auth.ErrTokenNotFound) {
			r.log.WithError(err).Warn("Failed to read stored credentials")
		}
	}

	if r.prompt != nil {
		token, err := r.prompt("Access token (input hidden): ")
		if err == nil && token != "" {
			return token, "prompt", nil
		}
	}

	return "", "", errNoToken
}

// printNoTokenHelp explains how to provide a token
func printNoTokenHelp(instance string) {
	ui.PrintError("No access token found")
	fmt.Fprintln(ui.Out, "\nProvide one of:")
	fmt.Fprintf(ui.Out, "  export %s=<token>\n", config.TokenEnv)
	fmt.Fprintln(ui.Out, "  mastogone auth login")
	fmt.Fprintln(ui.Out)
	auth.ShowTokenGuide(ui.Out, instance)
}
