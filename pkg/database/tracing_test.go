package database

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/charmntreats/addressvault/pkg/logger"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return rec
}

func onlySpan(t *testing.T, rec *tracetest.SpanRecorder) sdktrace.ReadOnlySpan {
	t.Helper()
	ended := rec.Ended()
	require.Len(t, ended, 1)
	return ended[0]
}

func attrsOf(span sdktrace.ReadOnlySpan) map[string]string {
	out := make(map[string]string)
	for _, kv := range span.Attributes() {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func TestTraceQuery_SpanShape(t *testing.T) {
	rec := recordSpans(t)

	ctx := logger.WithTier(context.Background(), "secondary")
	_, done := TraceQuery(ctx, "list_addresses", "SELECT id FROM addresses WHERE owner_id = $1")
	done(nil)

	span := onlySpan(t, rec)
	assert.Equal(t, "db.list_addresses", span.Name())
	assert.Equal(t, codes.Unset, span.Status().Code)
	assert.Equal(t, map[string]string{
		"db.system":    "postgresql",
		"db.operation": "list_addresses",
		"db.statement": "SELECT id FROM addresses WHERE owner_id = $1",
		"address.tier": "secondary",
	}, attrsOf(span))
}

func TestTraceQuery_WithoutTier(t *testing.T) {
	rec := recordSpans(t)
	_, done := TraceQuery(context.Background(), "count_addresses", "SELECT count(*) FROM addresses")
	done(nil)
	assert.NotContains(t, attrsOf(onlySpan(t, rec)), "address.tier")
}

func TestTraceQuery_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		failed bool
	}{
		{"connection lost", errors.New("read: connection reset by peer"), true},
		{"pgx no rows", fmt.Errorf("get default: %w", pgx.ErrNoRows), false},
		{"database/sql no rows", sql.ErrNoRows, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := recordSpans(t)
			_, done := TraceQuery(context.Background(), "get_default_address", "SELECT 1")
			done(tt.err)

			span := onlySpan(t, rec)
			if tt.failed {
				assert.Equal(t, codes.Error, span.Status().Code)
				assert.NotEmpty(t, span.Events())
			} else {
				assert.Equal(t, codes.Unset, span.Status().Code)
				assert.Empty(t, span.Events())
			}
		})
	}
}

func TestTraceQuery_ChildOfCaller(t *testing.T) {
	rec := recordSpans(t)

	ctx, parent := otel.Tracer("service").Start(context.Background(), "SetDefaultAddress")
	qctx, done := TraceQuery(ctx, "set_default", "UPDATE addresses SET is_default = true WHERE id = $1")
	done(nil)
	parent.End()

	var child sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		if s.Name() == "db.set_default" {
			child = s
		}
	}
	require.NotNil(t, child)
	assert.Equal(t, parent.SpanContext().SpanID(), child.Parent().SpanID())
	assert.Equal(t, child.SpanContext().SpanID(), trace.SpanContextFromContext(qctx).SpanID())
}

func TestSlowQueryLogging(t *testing.T) {
	recordSpans(t)
	var buf bytes.Buffer
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

	SetSlowQueryLogging(time.Hour, slog.New(slog.NewJSONHandler(&buf, nil)))
	_, done := TraceQuery(context.Background(), "list_addresses", "SELECT 1")
	done(nil)
	assert.Zero(t, buf.Len(), "fast query logged")

	SetSlowQueryLogging(time.Nanosecond, slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := logger.WithTier(context.Background(), "primary")
	_, done = TraceQuery(ctx, "lock_address", "SELECT id FROM addresses WHERE id = $1 FOR UPDATE")
	done(errors.New("canceling statement due to lock timeout"))

	out := buf.String()
	for _, want := range []string{"slow address query", "lock_address", "FOR UPDATE", `"tier":"primary"`, "lock timeout"} {
		assert.Contains(t, out, want)
	}
}

func TestSetSlowQueryLogging_DisabledByZeroOrNil(t *testing.T) {
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

	SetSlowQueryLogging(time.Nanosecond, nil)
	assert.Nil(t, slowQueries.Load())

	SetSlowQueryLogging(0, slog.New(slog.DiscardHandler))
	assert.Nil(t, slowQueries.Load())
}
