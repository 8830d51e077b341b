package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"mastogone/pkg/config"
	"mastogone/pkg/storage"
)

// Logger defines the interface for logging operations
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	WithContext(ctx context.Context) Logger

	DebugWithFields(msg string, fields map[string]interface{})
	InfoWithFields(msg string, fields map[string]interface{})
	WarnWithFields(msg string, fields map[string]interface{})
	ErrorWithFields(msg string, fields map[string]interface{})
	FatalWithFields(msg string, fields map[string]interface{})

	// GetZerolog exposes the underlying zerolog instance
	GetZerolog() *zerolog.Logger
}

type zerologLogger struct {
	logger *zerolog.Logger
	fields map[string]interface{}
}

// Fields with these names are always written as [REDACTED]
var redactedKeys = map[string]bool{
	"token":         true,
	"access_token":  true,
	"authorization": true,
	"passphrase":    true,
}

const redacted = "[REDACTED]"

var (
	secretsMu sync.RWMutex
	secrets   [][]byte
)

// RegisterSecret makes every writer created by New scrub s from its
// output, wherever it appears. Values shorter than 8 bytes are ignored.
func RegisterSecret(s string) {
	if len(s) < 8 {
		return
	}
	secretsMu.Lock()
	defer secretsMu.Unlock()
	for _, known := range secrets {
		if string(known) == s {
			return
		}
	}
	secrets = append(secrets, []byte(s))
}

// scrubWriter replaces registered secrets before bytes reach w
type scrubWriter struct {
	w io.Writer
}

func (s scrubWriter) Write(p []byte) (int, error) {
	secretsMu.RLock()
	out := p
	for _, secret := range secrets {
		if bytes.Contains(out, secret) {
			out = bytes.ReplaceAll(out, secret, []byte(redacted))
		}
	}
	secretsMu.RUnlock()

	if _, err := s.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// New creates a Logger from cfg. Log lines go to stderr so they never
// tear the progress line on stdout. Verbosity takes precedence over the
// raw level.
func New(cfg *config.LoggingConfig) (Logger, error) {
	level, err := parseLogLevel(cfg.EffectiveLevel())
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
			NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
		}
	}

	if cfg.File != "" {
		f, err := storage.OpenAppend(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, f)
	}

	zlog := zerolog.New(scrubWriter{w: out}).Level(level).With().Timestamp().Logger()
	return &zerologLogger{logger: &zlog, fields: map[string]interface{}{}}, nil
}

// parseLogLevel accepts the zerolog level names plus "warning"
func parseLogLevel(level string) (zerolog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	switch level {
	case "debug", "info", "warn", "error", "fatal", "disabled":
		return zerolog.ParseLevel(level)
	}
	return zerolog.InfoLevel, fmt.Errorf("unknown log level: %q", level)
}

func (l *zerologLogger) Debug(msg string) { l.write(l.logger.Debug(), msg, nil) }
func (l *zerologLogger) Info(msg string)  { l.write(l.logger.Info(), msg, nil) }
func (l *zerologLogger) Warn(msg string)  { l.write(l.logger.Warn(), msg, nil) }
func (l *zerologLogger) Error(msg string) { l.write(l.logger.Error(), msg, nil) }

// Fatal logs and exits the process
func (l *zerologLogger) Fatal(msg string) { l.write(l.logger.Fatal(), msg, nil) }

func (l *zerologLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.write(l.logger.Debug(), msg, fields)
}

func (l *zerologLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.write(l.logger.Info(), msg, fields)
}

func (l *zerologLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.write(l.logger.Warn(), msg, fields)
}

func (l *zerologLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.write(l.logger.Error(), msg, fields)
}

func (l *zerologLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	l.write(l.logger.Fatal(), msg, fields)
}

// WithField returns a child logger carrying one more field
func (l *zerologLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a child logger; the parent is left untouched
func (l *zerologLogger) WithFields(fields map[string]interface{}) Logger {
	return &zerologLogger{logger: l.logger, fields: merge(l.fields, fields)}
}

func (l *zerologLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *zerologLogger) WithContext(ctx context.Context) Logger {
	zl := l.logger.With().Ctx(ctx).Logger()
	return &zerologLogger{logger: &zl, fields: l.fields}
}

func (l *zerologLogger) GetZerolog() *zerolog.Logger {
	return l.logger
}

// write emits one event with the logger's fields and extra, redacted
func (l *zerologLogger) write(e *zerolog.Event, msg string, extra map[string]interface{}) {
	if e == nil {
		return
	}
	all := merge(l.fields, extra)
	for k := range all {
		if redactedKeys[strings.ToLower(k)] {
			all[k] = redacted
		}
	}
	e.Fields(all).Msg(msg)
}

func merge(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

var (
	globalMu     sync.Mutex
	globalLogger Logger
)

// Initialize replaces the global logger, including zerolog's own
func Initialize(cfg *config.LoggingConfig) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
	log.Logger = *l.GetZerolog()
	return nil
}

// GetLogger returns the global logger, creating an info level one on first use
func GetLogger() Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger, _ = New(&config.LoggingConfig{Level: "info", Verbosity: config.VerbosityNormal})
	}
	return globalLogger
}

func Debug(msg string) { GetLogger().Debug(msg) }
func Info(msg string)  { GetLogger().Info(msg) }
func Warn(msg string)  { GetLogger().Warn(msg) }
func Error(msg string) { GetLogger().Error(msg) }

func WithField(key string, value interface{}) Logger { return GetLogger().WithField(key, value) }
func WithFields(fields map[string]interface{}) Logger { return GetLogger().WithFields(fields) }
func WithError(err error) Logger                      { return GetLogger().WithError(err) }
