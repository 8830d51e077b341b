package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for every environment variable read by Load
	EnvPrefix = "MASTOGONE_"

	// TokenEnv holds the access token; the token is never read from a config file
	TokenEnv = EnvPrefix + "TOKEN"

	DefaultBackupFile     = "deleted_statuses_backup.jsonl"
	DefaultPreviewLogFile = "preview_log.txt"
	DefaultDeleteLogFile  = "deleted_statuses_log.txt"

	// MaxPageSize is the largest page the statuses endpoint returns
	MaxPageSize = 40
)

// Config holds all configuration options for a deletion run
type Config struct {
	Instance InstanceConfig `yaml:"instance" json:"instance" toml:"instance"`
	Filter   FilterConfig   `yaml:"filter" json:"filter" toml:"filter"`
	Run      RunConfig      `yaml:"run" json:"run" toml:"run"`
	Backup   BackupConfig   `yaml:"backup" json:"backup" toml:"backup"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics" toml:"metrics"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule" toml:"schedule"`
}

// InstanceConfig describes the Mastodon server and how to reach it
type InstanceConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url" toml:"base_url"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
	UserAgent string        `yaml:"user_agent" json:"user_agent" toml:"user_agent"`

	// AccessToken is resolved at runtime and never serialized
	AccessToken string `yaml:"-" json:"-" toml:"-"`
}

// FilterConfig holds the raw filter criteria as configured
type FilterConfig struct {
	Days           int      `yaml:"days" json:"days" toml:"days"`
	After          string   `yaml:"after" json:"after" toml:"after"`
	Before         string   `yaml:"before" json:"before" toml:"before"`
	Match          []string `yaml:"match" json:"match" toml:"match"`
	Regex          bool     `yaml:"regex" json:"regex" toml:"regex"`
	IncludeReplies bool     `yaml:"include_replies" json:"include_replies" toml:"include_replies"`
	IncludeReblogs bool     `yaml:"include_reblogs" json:"include_reblogs" toml:"include_reblogs"`
}

// RunConfig controls preview/execute behaviour and throttling
type RunConfig struct {
	Preview               bool          `yaml:"preview" json:"preview" toml:"preview"`
	BatchSize             int           `yaml:"batch_size" json:"batch_size" toml:"batch_size"`
	Cooldown              time.Duration `yaml:"cooldown" json:"cooldown" toml:"cooldown"`
	PageSize              int           `yaml:"page_size" json:"page_size" toml:"page_size"`
	ListRequestsPerMinute int           `yaml:"list_requests_per_minute" json:"list_requests_per_minute" toml:"list_requests_per_minute"`
	FetchRetries          int           `yaml:"fetch_retries" json:"fetch_retries" toml:"fetch_retries"`
	MinDaysForDelete      int           `yaml:"min_days_for_delete" json:"min_days_for_delete" toml:"min_days_for_delete"`
}

// BackupConfig holds the backup sink and activity log locations
type BackupConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	File    string `yaml:"file" json:"file" toml:"file"`
	LogFile string `yaml:"log_file" json:"log_file" toml:"log_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level" toml:"level"`
	Verbosity string `yaml:"verbosity" json:"verbosity" toml:"verbosity"`
	File      string `yaml:"file" json:"file" toml:"file"`
	Format    string `yaml:"format" json:"format" toml:"format"`
}

// MetricsConfig holds the optional Prometheus textfile target
type MetricsConfig struct {
	Textfile string `yaml:"textfile" json:"textfile" toml:"textfile"`
}

// ScheduleConfig holds the cron expression used by the schedule command
type ScheduleConfig struct {
	Cron string `yaml:"cron" json:"cron" toml:"cron"`
}

// Verbosity levels
const (
	VerbosityQuiet   = "quiet"
	VerbosityNormal  = "normal"
	VerbosityVerbose = "verbose"
)

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instance: InstanceConfig{
			Timeout:   30 * time.Second,
			UserAgent: "mastogone/" + Version,
		},
		Filter: FilterConfig{
			Days: 30,
		},
		Run: RunConfig{
			Preview:               true,
			BatchSize:             30,
			Cooldown:              30 * time.Minute,
			PageSize:              MaxPageSize,
			ListRequestsPerMinute: 60,
			FetchRetries:          3,
			MinDaysForDelete:      1,
		},
		Backup: BackupConfig{
			Enabled: true,
			File:    DefaultBackupFile,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Verbosity: VerbosityNormal,
			Format:    "text",
		},
	}
}

// Version is the application version, overridden at build time
var Version = "0.2.0"

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv(EnvPrefix + "BASE_URL"); v != "" {
		c.Instance.BaseURL = v
	}
	if v := os.Getenv(TokenEnv); v != "" {
		c.Instance.AccessToken = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvPrefix + "DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sDAYS: %w", EnvPrefix, err))
		} else {
			c.Filter.Days = n
		}
	}
	if v := os.Getenv(EnvPrefix + "BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sBATCH_SIZE: %w", EnvPrefix, err))
		} else {
			c.Run.BatchSize = n
		}
	}
	if v := os.Getenv(EnvPrefix + "COOLDOWN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sCOOLDOWN: %w", EnvPrefix, err))
		} else {
			c.Run.Cooldown = d
		}
	}
	if v := os.Getenv(EnvPrefix + "BACKUP_FILE"); v != "" {
		c.Backup.File = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "METRICS_TEXTFILE"); v != "" {
		c.Metrics.Textfile = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML or TOML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".mastogone.yaml",
		".mastogone.yml",
		".mastogone.toml",
		filepath.Join(home, ".config", "mastogone", "config.yaml"),
		filepath.Join(home, ".config", "mastogone", "config.toml"),
		filepath.Join(home, ".mastogone.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid. The access token is not
// checked here since it may still be prompted for.
func (c *Config) Validate() error {
	var errs []error

	if base := NormalizeBaseURL(c.Instance.BaseURL); base == "" {
		errs = append(errs, ErrNoInstance)
	} else if u, err := url.Parse(base); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid instance base URL %q", c.Instance.BaseURL))
	}
	if c.Instance.Timeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	if c.Filter.Days < 0 {
		errs = append(errs, errors.New("days cannot be negative"))
	}
	after, errAfter := ParseDate(c.Filter.After)
	if errAfter != nil {
		errs = append(errs, fmt.Errorf("invalid after date: %w", errAfter))
	}
	before, errBefore := ParseBefore(c.Filter.Before)
	if errBefore != nil {
		errs = append(errs, fmt.Errorf("invalid before date: %w", errBefore))
	}
	if errAfter == nil && errBefore == nil && !after.IsZero() && !before.IsZero() && after.After(before) {
		errs = append(errs, errors.New("after date must not be later than before date"))
	}

	if c.Run.BatchSize < 1 {
		errs = append(errs, errors.New("batch size must be at least 1"))
	}
	if c.Run.Cooldown <= 0 {
		errs = append(errs, errors.New("cooldown must be positive"))
	}
	if c.Run.PageSize < 1 || c.Run.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("page size must be between 1 and %d", MaxPageSize))
	}
	if c.Run.ListRequestsPerMinute < 1 {
		errs = append(errs, errors.New("list requests per minute must be positive"))
	}
	if c.Run.FetchRetries < 0 {
		errs = append(errs, errors.New("fetch retries cannot be negative"))
	}

	if c.Backup.Enabled && c.Backup.File == "" {
		errs = append(errs, errors.New("backup file is required when backups are enabled"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	switch c.Logging.Verbosity {
	case VerbosityQuiet, VerbosityNormal, VerbosityVerbose:
	default:
		errs = append(errs, fmt.Errorf("invalid verbosity %q", c.Logging.Verbosity))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ErrNoInstance is reported by Validate when no instance was configured
var ErrNoInstance = errors.New("instance base URL is required")

// ErrTooRecent is returned when a delete run targets posts younger than the configured floor
var ErrTooRecent = errors.New("refusing to delete statuses newer than the minimum age")

// CheckDeleteAllowed enforces the minimum age for destructive runs
func (c *Config) CheckDeleteAllowed() error {
	if !c.Run.Preview && c.Filter.Days < c.Run.MinDaysForDelete {
		return fmt.Errorf("%w: use --days %d or higher", ErrTooRecent, c.Run.MinDaysForDelete)
	}
	return nil
}

// ActivityLogFile returns the log file for matched statuses in the current mode
func (c *Config) ActivityLogFile() string {
	if c.Backup.LogFile != "" {
		return c.Backup.LogFile
	}
	if c.Run.Preview {
		return DefaultPreviewLogFile
	}
	return DefaultDeleteLogFile
}

// EffectiveLevel maps verbosity onto a log level
func (l LoggingConfig) EffectiveLevel() string {
	switch l.Verbosity {
	case VerbosityQuiet:
		return "error"
	case VerbosityVerbose:
		return "debug"
	default:
		return l.Level
	}
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only keys present in the map are applied.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["api-base-url"].(string); ok && v != "" {
		c.Instance.BaseURL = v
	}
	if v, ok := flags["days"].(int); ok {
		c.Filter.Days = v
	}
	if v, ok := flags["after"].(string); ok {
		c.Filter.After = v
	}
	if v, ok := flags["before"].(string); ok {
		c.Filter.Before = v
	}
	if v, ok := flags["match"].([]string); ok && len(v) > 0 {
		c.Filter.Match = v
	}
	if v, ok := flags["regex"].(bool); ok {
		c.Filter.Regex = v
	}
	if v, ok := flags["include-replies"].(bool); ok {
		c.Filter.IncludeReplies = v
	}
	if v, ok := flags["include-reblogs"].(bool); ok {
		c.Filter.IncludeReblogs = v
	}
	if v, ok := flags["preview"].(bool); ok {
		c.Run.Preview = v
	}
	if v, ok := flags["delete-batch-size"].(int); ok {
		c.Run.BatchSize = v
	}
	if v, ok := flags["cooldown"].(time.Duration); ok {
		c.Run.Cooldown = v
	}
	if v, ok := flags["backup-file"].(string); ok && v != "" {
		c.Backup.File = v
	}
	if v, ok := flags["no-backup"].(bool); ok && v {
		c.Backup.Enabled = false
	}
	if v, ok := flags["log-file"].(string); ok && v != "" {
		c.Backup.LogFile = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["verbosity"].(string); ok && v != "" {
		c.Logging.Verbosity = v
	}
	if v, ok := flags["metrics-textfile"].(string); ok && v != "" {
		c.Metrics.Textfile = v
	}
	if v, ok := flags["cron"].(string); ok && v != "" {
		c.Schedule.Cron = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".mastogone.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)
	config.Instance.BaseURL = NormalizeBaseURL(config.Instance.BaseURL)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// ParseDate parses a YYYY-MM-DD or RFC3339 date into UTC. The empty string
// yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q (want YYYY-MM-DD or RFC3339)", s)
}

// ParseBefore parses an inclusive upper date bound. A date without a time
// of day covers that whole day.
func ParseBefore(s string) (time.Time, error) {
	t, err := ParseDate(s)
	if err != nil || t.IsZero() {
		return t, err
	}
	if isDateOnly(s) {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func isDateOnly(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != len("2006-01-02") {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// NormalizeBaseURL trims whitespace and trailing slashes. A bare domain
// such as mastodon.social gets an https scheme.
func NormalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return strings.TrimRight(raw, "/")
}
