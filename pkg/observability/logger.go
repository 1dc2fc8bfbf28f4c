// Package observability provides the structured logger and Prometheus
// metrics used across projectmemory, adapted from the teacher's
// pkg/observability: the logger interface and stderr-only StandardLogger
// are kept close to the original shape; the teacher's OpenTelemetry
// tracing and HTTP-adapter layers are dropped (see DESIGN.md) because
// nothing in this service's JSON-RPC/stdio surface emits spans.
package observability

import (
	"fmt"
	"log"
	"os"
	"time"
)

// LogLevel orders the severities a Logger accepts.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// Logger is the structured logging interface threaded through every
// component constructor (spec section 9: logger built once at process
// start, no free-standing singleton).
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Fatal(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
	WithPrefix(prefix string) Logger
}

// StandardLogger writes key=value lines to stderr only. This is not a
// stylistic choice: stdout carries the JSON-RPC stream (spec section 6),
// so anything written to stdout by accident corrupts the wire protocol.
type StandardLogger struct {
	prefix string
	level  LogLevel
	fields map[string]interface{}
	logger *log.Logger
}

// NewStandardLogger creates a logger writing to os.Stderr.
func NewStandardLogger(prefix string) Logger {
	return &StandardLogger{
		prefix: prefix,
		level:  LogLevelInfo,
		logger: log.New(os.Stderr, "", 0),
	}
}

// NewLogger is the primary factory used throughout the codebase; it
// returns the Logger interface, not a concrete pointer type.
func NewLogger(prefix string) Logger {
	if prefix == "" {
		prefix = "projectmemory"
	}
	return NewStandardLogger(prefix)
}

func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelDebug) {
		l.log(LogLevelDebug, msg, fields)
	}
}

func (l *StandardLogger) Info(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelInfo) {
		l.log(LogLevelInfo, msg, fields)
	}
}

func (l *StandardLogger) Warn(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelWarn) {
		l.log(LogLevelWarn, msg, fields)
	}
}

func (l *StandardLogger) Error(msg string, fields map[string]interface{}) {
	l.log(LogLevelError, msg, fields)
}

func (l *StandardLogger) Fatal(msg string, fields map[string]interface{}) {
	l.log(LogLevelFatal, msg, fields)
	os.Exit(1)
}

func (l *StandardLogger) With(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &StandardLogger{prefix: l.prefix, level: l.level, fields: merged, logger: l.logger}
}

func (l *StandardLogger) WithPrefix(prefix string) Logger {
	return &StandardLogger{prefix: prefix, level: l.level, fields: l.fields, logger: l.logger}
}

func (l *StandardLogger) levelEnabled(level LogLevel) bool {
	order := map[LogLevel]int{
		LogLevelDebug: 0, LogLevelInfo: 1, LogLevelWarn: 2, LogLevelError: 3, LogLevelFatal: 4,
	}
	return order[level] >= order[l.level]
}

func (l *StandardLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	prefix := fmt.Sprintf("%s [%s] [%s]", ts, level, l.prefix)
	l.logger.Printf("%s %s%s", prefix, msg, formatFields(l.fields, fields))
}

// formatFields renders logger-level fields followed by call-site fields
// as "key=value" pairs, redacting fmt.Stringer values via their own
// String() method so a config.Secret never prints raw.
func formatFields(base, extra map[string]interface{}) string {
	if len(base) == 0 && len(extra) == 0 {
		return ""
	}
	var out string
	for k, v := range base {
		out += fmt.Sprintf(" %s=%v", k, v)
	}
	for k, v := range extra {
		out += fmt.Sprintf(" %s=%v", k, v)
	}
	return out
}

// NoopLogger discards everything; used in tests that don't assert on logs.
type NoopLogger struct{}

func NewNoopLogger() Logger { return &NoopLogger{} }

func (l *NoopLogger) Debug(string, map[string]interface{}) {}
func (l *NoopLogger) Info(string, map[string]interface{})  {}
func (l *NoopLogger) Warn(string, map[string]interface{})  {}
func (l *NoopLogger) Error(string, map[string]interface{}) {}
func (l *NoopLogger) Fatal(string, map[string]interface{}) {}
func (l *NoopLogger) With(map[string]interface{}) Logger   { return l }
func (l *NoopLogger) WithPrefix(string) Logger              { return l }
