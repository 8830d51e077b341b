package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"mastogone/pkg/auth"
	"mastogone/pkg/config"
	"mastogone/pkg/logger"
	"mastogone/pkg/mastodon"
	"mastogone/pkg/purge"
	"mastogone/pkg/ui"
)

var (
	skipVerify bool
	showGuide  bool
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Mastodon access tokens",
	Long: `Manage stored Mastodon access tokens.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - MASTOGONE_TOKEN (read only)

Tokens are never accepted as command line arguments.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [instance]",
	Short: "Store an access token securely",
	Long: `Store an access token for an instance in the system keychain or encrypted file.

The token is read from the terminal without echo and checked against the
instance before it is saved.`,
	Example: `  # Interactive login
  mastogone auth login mastodon.social

  # Instance taken from the configuration file
  mastogone auth login`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [instance]",
	Short: "Remove a stored token",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored tokens",
	Long:  `List stored tokens per instance. Tokens are always shown masked.`,
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(statusCmd)

	loginCmd.Flags().BoolVar(&skipVerify, "no-verify", false, "store the token without checking it against the instance")
	loginCmd.Flags().BoolVar(&showGuide, "guide", false, "show how to create an access token first")
}

// instanceFromArgs takes the instance from the argument or the configuration
func instanceFromArgs(args []string) (string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return mastodon.NormalizeBaseURL(args[0]), nil
	}
	cfg, err := loadConfig(map[string]interface{}{})
	if err != nil {
		return "", withCode(ExitFailures, fmt.Errorf("no instance given and none configured: %w", err))
	}
	return mastodon.NormalizeBaseURL(cfg.Instance.BaseURL), nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	instance, err := instanceFromArgs(args)
	if err != nil {
		return err
	}

	tokens, err := auth.NewManager()
	if err != nil {
		return withCode(ExitFileError, fmt.Errorf("failed to initialize credential manager: %w", err))
	}

	if showGuide {
		auth.ShowTokenGuide(ui.Out, instance)
		fmt.Fprintln(ui.Out)
	}

	ui.PrintInfo("Instance", instance)
	if _, store, err := tokens.Retrieve(instance); err == nil {
		ui.PrintWarning(fmt.Sprintf("A token for this instance is already stored in %s and will be replaced", store))
	}

	token, err := readSecret("Access token (input hidden): ")
	if err != nil || token == "" {
		ui.PrintError("No token entered")
		return withCode(ExitNoToken, nil)
	}

	logger.RegisterSecret(token)
	cred := &auth.Credential{Instance: instance, Token: token}
	if !skipVerify {
		acct, err := verifyToken(cmd.Context(), instance, token)
		if err != nil {
			ui.PrintError("Token rejected", err.Error())
			return withCode(ExitFailures, nil)
		}
		cred.Account = acct.Acct
		ui.PrintInfo("Account", "@"+acct.Acct)
	}

	store, err := tokens.Store(cred)
	if err != nil {
		return withCode(ExitFileError, err)
	}

	logger.WithFields(map[string]interface{}{"instance": instance, "store": store}).Info("Token stored")
	ui.PrintSuccess(fmt.Sprintf("Token stored in %s (%s)", store, auth.MaskToken(token)))
	if store == "encrypted-file" && os.Getenv(auth.PassphraseEnv) == "" {
		fmt.Fprintf(ui.Out, "\nThe file key is kept next to the token file. Set %s to use your own passphrase.\n", auth.PassphraseEnv)
	}
	return nil
}

// verifyToken checks the token against the instance
func verifyToken(ctx context.Context, instance, token string) (*mastodon.Account, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.DefaultConfig()
	cfg.Instance.BaseURL = instance
	cfg.Instance.AccessToken = token
	cfg.Instance.Timeout = 15 * time.Second

	client, err := mastodon.NewClient(&cfg.Instance, logger.GetLogger())
	if err != nil {
		return nil, err
	}
	return purge.Authenticate(ctx, client)
}

func runLogout(cmd *cobra.Command, args []string) error {
	instance, err := instanceFromArgs(args)
	if err != nil {
		return err
	}

	tokens, err := auth.NewManager()
	if err != nil {
		return withCode(ExitFileError, fmt.Errorf("failed to initialize credential manager: %w", err))
	}

	if err := tokens.Delete(instance); err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			ui.PrintWarning("No stored token for " + instance)
			return nil
		}
		return withCode(ExitFileError, err)
	}
	ui.PrintSuccess("Token removed for " + instance)
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	tokens, err := auth.NewManager()
	if err != nil {
		return withCode(ExitFileError, fmt.Errorf("failed to initialize credential manager: %w", err))
	}

	ui.PrintInfo("Stores", strings.Join(tokens.Stores(), ", "))

	creds, err := tokens.List()
	if err != nil {
		return withCode(ExitFileError, err)
	}
	if len(creds) == 0 {
		ui.PrintWarning("No stored tokens")
		fmt.Fprintln(ui.Out, "\nRun 'mastogone auth login <instance>' to store one.")
		return nil
	}

	fmt.Fprintln(ui.Out)
	for _, c := range creds {
		c = auth.SanitizeCredential(c)
		line := fmt.Sprintf("  %s  %s", ui.Bold(c.Instance), c.Token)
		if c.Account != "" {
			line += "  @" + c.Account
		}
		if !c.LastModified.IsZero() {
			line += "  (saved " + c.LastModified.Local().Format("2006-01-02 15:04") + ")"
		}
		fmt.Fprintln(ui.Out, line)
	}
	return nil
}
