// Package logging provides the structured logger used across every Orion
// Sentinel component: a thin wrapper around logrus with named per-component
// loggers, JSON or text formatting, and context-carried trace IDs.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type ctxKey int

const traceIDKey ctxKey = iota

// Logger wraps *logrus.Logger with a component name attached to every entry.
type Logger struct {
	*logrus.Logger
	component string
}

// Config controls level/format/output construction.
type Config struct {
	Level  string
	Format string // "json" or "text"
	Output io.Writer
}

// New builds a Logger for the given component using an explicit config.
func New(component string, cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.ToLower(cfg.Format) == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	} else {
		l.SetOutput(os.Stdout)
	}

	return &Logger{Logger: l, component: component}
}

// NewDefault builds a Logger for component using LOG_LEVEL/LOG_FORMAT from
// the environment, defaulting to info/json.
func NewDefault(component string) *Logger {
	return New(component, Config{
		Level:  envOr("LOG_LEVEL", "info"),
		Format: envOr("LOG_FORMAT", "json"),
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// WithField returns an entry tagged with the logger's component plus field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField("component", l.component).WithField(key, value)
}

// WithFields returns an entry tagged with the logger's component plus fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError returns an entry tagged with the logger's component plus error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithField("component", l.component).WithError(err)
}

// WithContext attaches a trace ID from ctx, if present, to the entry.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if traceID, ok := ctx.Value(traceIDKey).(string); ok && traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	return entry
}

// Entry returns a bare entry tagged only with the component, for callers
// that just want to call Info/Warn/Error directly.
func (l *Logger) Entry() *logrus.Entry {
	return l.Logger.WithField("component", l.component)
}

// WithTraceID attaches a trace ID to ctx for downstream WithContext calls.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID reads a trace ID previously attached with WithTraceID.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}
