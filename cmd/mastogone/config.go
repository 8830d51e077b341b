package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"mastogone/pkg/auth"
	"mastogone/pkg/config"
	"mastogone/pkg/filter"
	"mastogone/pkg/ui"
)

var showFormat string

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage mastogone configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (MASTOGONE_*)
  - .env files
  - Configuration file (YAML or TOML)
  - Default values (lowest priority)

The access token is never read from or written to a configuration file.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is created as '.mastogone.yaml' in the current directory unless a
different path is given with --config. A .toml extension writes TOML.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging every source.

The access token is shown masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the merged configuration.

This command checks:
  - File syntax and value ranges
  - Date filters and match patterns
  - The schedule cron expression`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configShowCmd.Flags().StringVar(&showFormat, "format", "yaml", "output format (yaml, toml)")
	configShowCmd.Flags().StringVar(&apiBaseURL, "api-base-url", "", "Mastodon instance")
	configValidateCmd.Flags().StringVar(&apiBaseURL, "api-base-url", "", "Mastodon instance")
}

const exampleConfig = `# mastogone configuration file
#
# Environment variables prefixed with MASTOGONE_ override these values.
# The access token is read from MASTOGONE_TOKEN or the credential store,
# never from this file.

instance:
  # Your Mastodon server (required)
  base_url: "https://mastodon.social"
  timeout: 30s
  user_agent: ""

filter:
  # Only posts older than this many days; 0 disables the age cutoff
  days: 30
  # Optional date range, YYYY-MM-DD, inclusive
  after: ""
  before: ""
  # Only posts containing any of these; empty matches everything
  match: []
  regex: false
  include_replies: false
  include_reblogs: false

run:
  # Preview lists matching posts without deleting anything
  preview: true
  # Deletions per batch, then a cooldown
  batch_size: 30
  cooldown: 30m
  page_size: 40
  list_requests_per_minute: 60
  fetch_retries: 3
  # Delete runs are refused for days below this
  min_days_for_delete: 1

backup:
  enabled: true
  file: "deleted_statuses_backup.jsonl"
  # Text log of matched posts; defaults depend on the mode
  log_file: ""

logging:
  level: "info"
  # quiet, normal or verbose
  verbosity: "normal"
  file: ""
  format: "text"

metrics:
  # Prometheus node exporter textfile, written after each run
  textfile: ""

schedule:
  # Standard five field cron expression used by 'mastogone schedule'
  cron: "0 3 * * 0"
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".mastogone.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Fprintln(ui.Out, "\nTo overwrite, first remove the existing file:")
		fmt.Fprintf(ui.Out, "  rm %s\n", configPath)
		return withCode(ExitFileError, nil)
	}

	data := []byte(exampleConfig)
	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		var err error
		if data, err = encodeTOML(exampleDefaults()); err != nil {
			return withCode(ExitUnexpected, err)
		}
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return withCode(ExitFileError, fmt.Errorf("failed to create config directory: %w", err))
		}
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return withCode(ExitFileError, fmt.Errorf("failed to write config file: %w", err))
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Fprintln(ui.Out, "\nNext steps:")
	fmt.Fprintln(ui.Out, "  1. Set instance.base_url to your server")
	fmt.Fprintln(ui.Out, "  2. Store a token with 'mastogone auth login'")
	fmt.Fprintln(ui.Out, "  3. Preview with 'mastogone'")
	return nil
}

// exampleDefaults is the example file's content as a Config
func exampleDefaults() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Instance.BaseURL = "https://mastodon.social"
	cfg.Schedule.Cron = "0 3 * * 0"
	return cfg
}

func encodeTOML(cfg *config.Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode TOML: %w", err)
	}
	return buf.Bytes(), nil
}

func configFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	if cmd.Flags().Changed("api-base-url") {
		flags["api-base-url"] = apiBaseURL
	}
	return flags
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFlags(cmd))
	if err != nil {
		return err
	}

	var data []byte
	switch strings.ToLower(showFormat) {
	case "toml":
		data, err = encodeTOML(cfg)
	case "yaml", "yml":
		data, err = yaml.Marshal(cfg)
	default:
		return withCode(ExitFailures, fmt.Errorf("unknown format %q", showFormat))
	}
	if err != nil {
		return withCode(ExitUnexpected, err)
	}

	ui.PrintHighlight("Current configuration:")
	fmt.Fprint(ui.Out, string(data))
	fmt.Fprintln(ui.Out)

	token := "(not set)"
	if cfg.Instance.AccessToken != "" {
		token = auth.MaskToken(cfg.Instance.AccessToken) + " (from " + config.TokenEnv + ")"
	}
	ui.PrintInfo("Access token", token)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFlags(cmd))
	if err != nil {
		ui.PrintError("Configuration invalid", err.Error())
		return withCode(exitCode(err), nil)
	}

	problems := validateExtended(cfg, time.Now())
	if len(problems) > 0 {
		ui.PrintError("Configuration invalid")
		for _, p := range problems {
			fmt.Fprintf(ui.Out, "  - %s\n", p)
		}
		return withCode(ExitFailures, nil)
	}

	ui.PrintSuccess("Configuration is valid")
	ui.PrintInfo("Instance", cfg.Instance.BaseURL)
	ui.PrintInfo("Mode", modeName(cfg.Run.Preview))
	if err := cfg.CheckDeleteAllowed(); err != nil {
		ui.PrintWarning("Delete runs will be refused", err)
	}
	return nil
}

// validateExtended checks what Config.Validate cannot: patterns and the cron spec
func validateExtended(cfg *config.Config, now time.Time) []string {
	var problems []string
	if _, err := filter.FromConfig(&cfg.Filter, now); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(cfg.Schedule.Cron); err != nil {
			problems = append(problems, fmt.Sprintf("invalid schedule cron %q: %v", cfg.Schedule.Cron, err))
		}
	}
	return problems
}

func modeName(preview bool) string {
	if preview {
		return "preview"
	}
	return "delete"
}
