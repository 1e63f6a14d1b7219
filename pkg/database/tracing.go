package database

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/charmntreats/addressvault/pkg/logger"
)

const tracerName = "github.com/charmntreats/addressvault/pkg/database"

type slowQueryLog struct {
	threshold time.Duration
	log       *slog.Logger
}

var slowQueries atomic.Pointer[slowQueryLog]

// SetSlowQueryLogging warns through log about every query that takes at
// least threshold. A zero threshold or nil logger turns it off.
func SetSlowQueryLogging(threshold time.Duration, log *slog.Logger) {
	if threshold <= 0 || log == nil {
		slowQueries.Store(nil)
		return
	}
	slowQueries.Store(&slowQueryLog{threshold: threshold, log: log})
}

// noRows reports the empty result of a single-row lookup. It is an answer,
// not a failed query.
func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// TraceQuery opens a client span named "db.<operation>" for one statement
// and returns the function that closes it:
//
//	ctx, done := database.TraceQuery(ctx, "list_addresses", query)
//	rows, err := db.Query(ctx, query, ownerID)
//	done(err)
//
// The span records the tier from logger.WithTier as address.tier. Empty
// single-row results do not mark the span failed.
func TraceQuery(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	tier := logger.TierFromContext(ctx)
	attrs := []attribute.KeyValue{
		semconv.DBSystemPostgreSQL,
		semconv.DBOperation(operation),
		semconv.DBStatement(statement),
	}
	if tier != "" {
		attrs = append(attrs, attribute.String("address.tier", tier))
	}

	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		if err != nil && !noRows(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		logIfSlow(ctx, operation, statement, tier, time.Since(start), err)
	}
}

func logIfSlow(ctx context.Context, operation, statement, tier string, elapsed time.Duration, err error) {
	cfg := slowQueries.Load()
	if cfg == nil || elapsed < cfg.threshold {
		return
	}
	attrs := []any{
		slog.String("operation", operation),
		slog.String("statement", statement),
		slog.Duration("duration", elapsed),
	}
	if tier != "" {
		attrs = append(attrs, slog.String("tier", tier))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	cfg.log.WarnContext(ctx, "slow address query", attrs...)
}
