// Package logging provides structured logging for vidlens.
// It wraps zerolog with a small field-based interface, human-readable console
// output for interactive use and JSON output for scripted runs, and optional
// sinks that persist every entry (see FileWriter).
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey type for context values to avoid collisions.
type ContextKey string

// Context keys read by WithContext.
const (
	RunIDKey   ContextKey = "run_id"
	TraceIDKey ContextKey = "trace_id"
)

// Level represents logging severity levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level sets the minimum log level (debug, info, warn, error).
	Level Level

	// ServiceName is included in all log entries.
	ServiceName string

	// JSONFormat enables JSON output when true, human-readable when false.
	JSONFormat bool

	// Output sets the writer for logs (defaults to os.Stderr so stdout stays
	// free for analysis and chat output).
	Output io.Writer

	// Sinks receive a copy of every entry.
	Sinks []Sink
}

// DefaultConfig returns a Config for interactive use.
func DefaultConfig() *Config {
	return &Config{
		Level:       LevelInfo,
		ServiceName: "vidlens",
		JSONFormat:  false,
		Output:      os.Stderr,
	}
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a new Logger with the given fields attached to all subsequent logs.
	With(fields ...Field) Logger

	// WithContext returns a new Logger carrying the run and trace IDs found in ctx.
	WithContext(ctx context.Context) Logger

	// Zerolog returns the underlying zerolog.Logger.
	Zerolog() zerolog.Logger
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new Field with the given key and value.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates a Field for an error.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

type logger struct {
	zl          zerolog.Logger
	serviceName string
	sinks       []Sink
	// bound holds With/WithContext fields so sinks see them too.
	bound []Field
}

// NewLogger creates a new Logger with the given configuration.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.TimeOnly,
		}
	}

	zl := zerolog.New(output).
		With().
		Timestamp().
		Str("service_name", cfg.ServiceName).
		Logger()

	return &logger{
		zl:          zl,
		serviceName: cfg.ServiceName,
		sinks:       cfg.Sinks,
	}
}

func (l *logger) Zerolog() zerolog.Logger {
	return l.zl
}

// ParseLevel converts a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return Level(s)
	default:
		return LevelInfo
	}
}

func parseLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *logger) Debug(msg string, fields ...Field) {
	addFields(l.zl.Debug(), fields).Msg(msg)
	l.sendToSinks(LevelDebug, msg, fields)
}

func (l *logger) Info(msg string, fields ...Field) {
	addFields(l.zl.Info(), fields).Msg(msg)
	l.sendToSinks(LevelInfo, msg, fields)
}

func (l *logger) Warn(msg string, fields ...Field) {
	addFields(l.zl.Warn(), fields).Msg(msg)
	l.sendToSinks(LevelWarn, msg, fields)
}

func (l *logger) Error(msg string, fields ...Field) {
	addFields(l.zl.Error(), fields).Msg(msg)
	l.sendToSinks(LevelError, msg, fields)
}

func (l *logger) With(fields ...Field) Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = addFieldToContext(ctx, f)
	}
	return l.derive(ctx.Logger(), fields)
}

func (l *logger) WithContext(ctx context.Context) Logger {
	zc := l.zl.With()
	var fields []Field

	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		zc = zc.Str(string(RunIDKey), runID)
		fields = append(fields, F(string(RunIDKey), runID))
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		zc = zc.Str(string(TraceIDKey), traceID)
		fields = append(fields, F(string(TraceIDKey), traceID))
	}

	return l.derive(zc.Logger(), fields)
}

func (l *logger) derive(zl zerolog.Logger, extra []Field) *logger {
	bound := make([]Field, 0, len(l.bound)+len(extra))
	bound = append(bound, l.bound...)
	bound = append(bound, extra...)
	return &logger{
		zl:          zl,
		serviceName: l.serviceName,
		sinks:       l.sinks,
		bound:       bound,
	}
}

func addFields(event *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			event = event.Str(f.Key, v)
		case int:
			event = event.Int(f.Key, v)
		case int64:
			event = event.Int64(f.Key, v)
		case float64:
			event = event.Float64(f.Key, v)
		case bool:
			event = event.Bool(f.Key, v)
		case error:
			event = event.Err(v)
		case time.Duration:
			event = event.Dur(f.Key, v)
		case time.Time:
			event = event.Time(f.Key, v)
		default:
			event = event.Interface(f.Key, v)
		}
	}
	return event
}

func addFieldToContext(ctx zerolog.Context, f Field) zerolog.Context {
	switch v := f.Value.(type) {
	case string:
		return ctx.Str(f.Key, v)
	case int:
		return ctx.Int(f.Key, v)
	case int64:
		return ctx.Int64(f.Key, v)
	case float64:
		return ctx.Float64(f.Key, v)
	case bool:
		return ctx.Bool(f.Key, v)
	case error:
		return ctx.Err(v)
	case time.Duration:
		return ctx.Dur(f.Key, v)
	case time.Time:
		return ctx.Time(f.Key, v)
	default:
		return ctx.Interface(f.Key, v)
	}
}

func (l *logger) sendToSinks(level Level, msg string, fields []Field) {
	if len(l.sinks) == 0 || parseLevel(level) < zerolog.GlobalLevel() {
		return
	}

	fieldMap := make(map[string]string, len(l.bound)+len(fields))
	var runID string
	for _, group := range [][]Field{l.bound, fields} {
		for _, f := range group {
			if f.Key == string(RunIDKey) {
				if id, ok := f.Value.(string); ok {
					runID = id
					continue
				}
			}
			fieldMap[f.Key] = fmt.Sprint(f.Value)
		}
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     string(level),
		Service:   l.serviceName,
		Message:   msg,
		Fields:    fieldMap,
		RunID:     runID,
		Caller:    getCaller(3),
	}

	for _, sink := range l.sinks {
		sink.Write(entry)
	}
}

var global Logger

// SetGlobal sets the global logger instance.
func SetGlobal(l Logger) {
	global = l
}

// Global returns the global logger instance.
// Panics if SetGlobal has not been called.
func Global() Logger {
	if global == nil {
		panic("logging: global logger not initialized, call SetGlobal first")
	}
	return global
}

// MustGlobal returns the global logger, initializing with defaults if not set.
func MustGlobal() Logger {
	if global == nil {
		global = NewLogger(DefaultConfig())
	}
	return global
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string, fields ...Field)      {}
func (n *nopLogger) Info(msg string, fields ...Field)       {}
func (n *nopLogger) Warn(msg string, fields ...Field)       {}
func (n *nopLogger) Error(msg string, fields ...Field)      {}
func (n *nopLogger) With(fields ...Field) Logger            { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger { return n }
func (n *nopLogger) Zerolog() zerolog.Logger                { return zerolog.Nop() }

// NewNopLogger returns a logger that discards all output.
func NewNopLogger() Logger {
	return &nopLogger{}
}
