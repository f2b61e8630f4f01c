// Package logging provides component-scoped, leveled logging for the bus and
// its transports. Output is written through zerolog, either as a human
// readable console line or as one JSON object per line.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Format selects the output encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

var zerologLevels = map[Level]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// ParseLevel converts a case-insensitive level name.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if level == "WARNING" {
		level = LevelWarn
	}
	if _, ok := zerologLevels[level]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Config configures a Logger.
type Config struct {
	// Level is the minimum level written. Default: INFO
	Level Level

	// Format is console or json. Default: console
	Format Format

	// Output is the destination. Default: stdout
	Output io.Writer
}

// Logger writes leveled log lines tagged with a component and trace id.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	format    Format
	component string
	traceID   string
	disabled  bool
	zl        zerolog.Logger
}

// New creates a console Logger writing INFO and above to stdout.
func New() *Logger {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a Logger from cfg, filling defaults.
func NewWithConfig(cfg Config) *Logger {
	if cfg.Level == "" {
		cfg.Level = LevelInfo
	}
	if cfg.Format == "" {
		cfg.Format = FormatConsole
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	l := &Logger{
		output:   cfg.Output,
		minLevel: cfg.Level,
		format:   cfg.Format,
	}
	l.rebuild()
	return l
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{
		output:   io.Discard,
		minLevel: LevelError,
		format:   FormatJSON,
		disabled: true,
		zl:       zerolog.Nop(),
	}
}

func (l *Logger) clone() *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		format:    l.format,
		component: l.component,
		traceID:   l.traceID,
		disabled:  l.disabled,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	c := l.clone()
	c.component = component
	c.rebuild()
	return c
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	c := l.clone()
	c.traceID = traceID
	c.rebuild()
	return c
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
	l.rebuild()
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.output = w
	l.mu.Unlock()
	l.rebuild()
}

// rebuild derives the zerolog logger from the current settings.
func (l *Logger) rebuild() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disabled {
		l.zl = zerolog.Nop()
		return
	}

	w := l.output
	if l.format == FormatConsole {
		w = zerolog.ConsoleWriter{
			Out:        l.output,
			NoColor:    true,
			TimeFormat: time.RFC3339,
		}
	}

	ctx := zerolog.New(w).With().Timestamp()
	if l.component != "" {
		ctx = ctx.Str("component", l.component)
	}
	if l.traceID != "" {
		ctx = ctx.Str("trace_id", l.traceID)
	}
	l.zl = ctx.Logger().Level(zerologLevels[l.minLevel])
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.mu.Lock()
	zl := l.zl
	l.mu.Unlock()

	ev := zl.WithLevel(zerologLevels[level])
	if ev == nil {
		return
	}
	if len(fields) > 0 && fields[0] != nil {
		ev = ev.Fields(fields[0])
	}
	ev.Msg(msg)
}

// --- Bus event logging ---

// HandlerRegistered logs a new subscription.
func (l *Logger) HandlerRegistered(address, id, scope string) {
	l.Debug("handler_registered", map[string]interface{}{
		"address": address,
		"handler": id,
		"scope":   scope,
	})
}

// HandlerUnregistered logs a removed subscription.
func (l *Logger) HandlerUnregistered(address, id string) {
	l.Debug("handler_unregistered", map[string]interface{}{
		"address": address,
		"handler": id,
	})
}

// MessageDropped logs a message the transport could not queue.
func (l *Logger) MessageDropped(address, reason string) {
	l.Warn("message_dropped", map[string]interface{}{
		"address": address,
		"reason":  reason,
	})
}

// DeliveryFailed logs a failed delivery reported by a transport.
func (l *Logger) DeliveryFailed(address string, err error) {
	l.Warn("delivery_failed", map[string]interface{}{
		"address": address,
		"error":   err.Error(),
	})
}

// HandlerPanic logs a panic recovered from a handler.
func (l *Logger) HandlerPanic(address string, err error) {
	l.Error("handler_panic", map[string]interface{}{
		"address": address,
		"error":   err.Error(),
	})
}

// ReplyFailed logs a reply that could not be sent from inside a handler.
func (l *Logger) ReplyFailed(address string, err error) {
	l.Warn("reply_failed", map[string]interface{}{
		"address": address,
		"error":   err.Error(),
	})
}
