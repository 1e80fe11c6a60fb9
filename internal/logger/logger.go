// Package logger provides structured logging on zerolog.
// It sets up a JSON (or console) writer with service-level context and
// provides trace ID propagation through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Options controls output format and destination.
type Options struct {
	// Format is "json" (default) or "console".
	Format string
	// File, when set, also writes JSON lines to a rotating file.
	File string
	// Out overrides stdout.
	Out io.Writer
}

// Init creates a logger for the given service and installs it as the
// global zerolog logger.
func Init(service, level string) zerolog.Logger {
	return InitWithOptions(service, level, Options{})
}

// InitWithOptions is Init with explicit output options.
func InitWithOptions(service, level string, opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(opts.Format, "console") || strings.EqualFold(opts.Format, "pretty") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if opts.File != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}

	lg := zerolog.New(out).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	log.Logger = lg
	return lg
}

// ParseLevel maps a level name to a zerolog level. Unknown names are info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warning":
		return zerolog.WarnLevel
	case "":
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a trace ID from a token and timestamp.
// Format: "{token}-{unixNano}".
func GenerateTraceID(token string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", token, ts.UnixNano())
}

// LogWithTrace returns l with the context's trace ID attached, if any.
// Usage: logger.LogWithTrace(ctx, lg).Info().Msg("...")
func LogWithTrace(ctx context.Context, l zerolog.Logger) *zerolog.Logger {
	tid := TraceID(ctx)
	if tid == "" {
		return &l
	}
	with := l.With().Str("trace_id", tid).Logger()
	return &with
}
