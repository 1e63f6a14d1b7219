// Package logger builds the service's JSON slog logger and carries
// request-scoped fields (correlation, owner, tier, trace) through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	ownerIDKey
	tierKey
	loggerKey
)

// contextFields lists the string values copied from a context onto log
// lines, in output order.
var contextFields = []struct {
	attr string
	key  ctxKey
}{
	{"correlation_id", correlationIDKey},
	{"owner_id", ownerIDKey},
	{"tier", tierKey},
}

// New returns the service logger writing JSON to stdout.
func New(service, level string) *slog.Logger {
	return NewWithWriter(service, level, os.Stdout)
}

// NewWithWriter returns the service logger writing JSON to w. Debug level
// also records source positions.
func NewWithWriter(service, level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: lvl <= slog.LevelDebug})
	return slog.New(h).With(slog.String("service", service))
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a level name to slog.Level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	if lvl, ok := levels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return lvl
	}
	return slog.LevelInfo
}

func withString(ctx context.Context, key ctxKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// WithCorrelationID tags ctx with the request's correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return withString(ctx, correlationIDKey, id)
}

func CorrelationIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, correlationIDKey)
}

// WithOwnerID tags ctx with the owner whose addresses are being served.
func WithOwnerID(ctx context.Context, id string) context.Context {
	return withString(ctx, ownerIDKey, id)
}

func OwnerIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, ownerIDKey)
}

// WithTier tags ctx with the storage tier handling the current call.
func WithTier(ctx context.Context, tier string) context.Context {
	return withString(ctx, tierKey, tier)
}

func TierFromContext(ctx context.Context) string {
	return stringFrom(ctx, tierKey)
}

// NewContext stores l as the request logger.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the request logger, or slog.Default when none is
// stored.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Attrs returns the log attributes ctx carries. Empty values are skipped.
func Attrs(ctx context.Context) []any {
	var attrs []any
	for _, f := range contextFields {
		if v := stringFrom(ctx, f.key); v != "" {
			attrs = append(attrs, slog.String(f.attr, v))
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return attrs
}

// WithContext returns l annotated with Attrs(ctx).
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	attrs := Attrs(ctx)
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
