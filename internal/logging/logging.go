// Package logging provides structured logging for the OPNODE backend.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// Logger wraps zerolog with trace-ID aware helpers.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger for the named service. Level is one of
// debug/info/warn/error; format is "json" or "console".
func New(service, level, format string) *Logger {
	var out io.Writer = os.Stderr
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	zl := zerolog.New(out).Level(lvl).With().
		Timestamp().
		Str("service", service).
		Logger()

	return &Logger{zl: zl}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// NewTraceID generates a new trace identifier.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from the context, if any.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

func (l *Logger) event(ctx context.Context, e *zerolog.Event) *zerolog.Event {
	if tid := TraceID(ctx); tid != "" {
		e = e.Str("trace_id", tid)
	}
	return e
}

// Debug logs a debug message with optional key/value fields.
func (l *Logger) Debug(ctx context.Context, msg string, fields map[string]any) {
	l.event(ctx, l.zl.Debug()).Fields(fields).Msg(msg)
}

// Info logs an info message with optional key/value fields.
func (l *Logger) Info(ctx context.Context, msg string, fields map[string]any) {
	l.event(ctx, l.zl.Info()).Fields(fields).Msg(msg)
}

// Warn logs a warning with optional key/value fields.
func (l *Logger) Warn(ctx context.Context, msg string, fields map[string]any) {
	l.event(ctx, l.zl.Warn()).Fields(fields).Msg(msg)
}

// Error logs an error with optional key/value fields.
func (l *Logger) Error(ctx context.Context, msg string, err error, fields map[string]any) {
	l.event(ctx, l.zl.Error()).Err(err).Fields(fields).Msg(msg)
}

// LogRequest logs a completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.event(ctx, l.zl.Info()).
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("duration", duration).
		Msg("http request")
}

// LogSecurityEvent logs a security-relevant event (bad signatures,
// rate limit hits, rejected auth).
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]any) {
	l.event(ctx, l.zl.Warn()).Str("event", event).Fields(fields).Msg("security event")
}
