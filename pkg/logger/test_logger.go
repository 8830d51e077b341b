package logger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// TestLogger records every message so tests can assert on what was logged
type TestLogger struct {
	rec    *recorder
	fields map[string]interface{}
}

// LogMessage is one captured log line
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

type recorder struct {
	mu       sync.Mutex
	messages []LogMessage
}

// NewTestLogger creates a new test logger
func NewTestLogger() *TestLogger {
	return &TestLogger{rec: &recorder{}, fields: map[string]interface{}{}}
}

func (t *TestLogger) log(level, msg string, extra map[string]interface{}) {
	fields := make(map[string]interface{}, len(t.fields)+len(extra))
	for k, v := range t.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	t.rec.messages = append(t.rec.messages, LogMessage{Level: level, Message: msg, Fields: fields})
}

func (t *TestLogger) Debug(msg string) { t.log("debug", msg, nil) }
func (t *TestLogger) Info(msg string)  { t.log("info", msg, nil) }
func (t *TestLogger) Warn(msg string)  { t.log("warn", msg, nil) }
func (t *TestLogger) Error(msg string) { t.log("error", msg, nil) }
func (t *TestLogger) Fatal(msg string) { t.log("fatal", msg, nil) }

func (t *TestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	t.log("debug", msg, fields)
}

func (t *TestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	t.log("info", msg, fields)
}

func (t *TestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	t.log("warn", msg, fields)
}

func (t *TestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	t.log("error", msg, fields)
}

func (t *TestLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	t.log("fatal", msg, fields)
}

// WithField returns a child sharing the same message buffer
func (t *TestLogger) WithField(key string, value interface{}) Logger {
	return t.WithFields(map[string]interface{}{key: value})
}

func (t *TestLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(t.fields)+len(fields))
	for k, v := range t.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &TestLogger{rec: t.rec, fields: merged}
}

func (t *TestLogger) WithError(err error) Logger {
	if err == nil {
		return t
	}
	return t.WithField("error", err.Error())
}

func (t *TestLogger) WithContext(ctx context.Context) Logger { return t }

func (t *TestLogger) GetZerolog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// GetMessages returns a copy of all captured messages
func (t *TestLogger) GetMessages() []LogMessage {
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	out := make([]LogMessage, len(t.rec.messages))
	copy(out, t.rec.messages)
	return out
}

// GetMessagesByLevel returns captured messages of one level
func (t *TestLogger) GetMessagesByLevel(level string) []LogMessage {
	var out []LogMessage
	for _, m := range t.GetMessages() {
		if m.Level == level {
			out = append(out, m)
		}
	}
	return out
}

// HasMessage reports whether a message containing substr was logged at level
func (t *TestLogger) HasMessage(level, substr string) bool {
	for _, m := range t.GetMessagesByLevel(level) {
		if strings.Contains(m.Message, substr) {
			return true
		}
	}
	return false
}

// Contains reports whether substr appears anywhere in the captured output,
// field values included.
func (t *TestLogger) Contains(substr string) bool {
	return strings.Contains(t.String(), substr)
}

// Clear drops all captured messages
func (t *TestLogger) Clear() {
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	t.rec.messages = nil
}

func (t *TestLogger) String() string {
	var sb strings.Builder
	for _, m := range t.GetMessages() {
		fmt.Fprintf(&sb, "[%s] %s", strings.ToUpper(m.Level), m.Message)
		for k, v := range m.Fields {
			fmt.Fprintf(&sb, " %s=%v", k, v)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
