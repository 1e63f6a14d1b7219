package tracing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/charmntreats/addressvault/pkg/errors"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestInitTracer_DisabledStillPropagates(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := InitTracer(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	assert.Equal(t, before, otel.GetTracerProvider())
	assert.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, otel.GetTextMapPropagator().Fields())
}

func TestInitTracer_EnabledInstallsSDK(t *testing.T) {
	restoreGlobals(t)

	shutdown, err := InitTracer(context.Background(), Config{
		ServiceName:    "address",
		ServiceVersion: "test",
		Environment:    "test",
		OTLPEndpoint:   "127.0.0.1:0",
		SampleRate:     1,
		Enabled:        true,
	})
	require.NoError(t, err)
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func sampled(s sdktrace.Sampler, parent context.Context) bool {
	res := s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parent,
		TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe},
		Name:          "GET /api/v1/addresses",
	})
	return res.Decision == sdktrace.RecordAndSample
}

func TestSampler(t *testing.T) {
	root := context.Background()
	assert.True(t, sampled(Sampler(1), root))
	assert.True(t, sampled(Sampler(7), root), "rate above one is clamped")
	assert.False(t, sampled(Sampler(0), root))
	assert.False(t, sampled(Sampler(-1), root))

	upstream := trace.ContextWithRemoteSpanContext(root, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	assert.True(t, sampled(Sampler(0), upstream), "sampled caller wins over rate")
}

func TestSpanHelpers(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status codes.Code
		events int
	}{
		{"success", nil, codes.Unset, 0},
		{"missing address", fmt.Errorf("get: %w", apperrors.NotFound("address", "a-1")), codes.Unset, 1},
		{"tier outage", apperrors.Unavailable("primary", errors.New("connection refused")), codes.Error, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
			restoreGlobals(t)
			otel.SetTracerProvider(tp)

			_, span := StartSpan(context.Background(), "service", "AddressService.GetAddress", attribute.String("address.id", "a-1"))
			EndSpan(span, tt.err)

			ended := rec.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, "AddressService.GetAddress", ended[0].Name())
			assert.Equal(t, tt.status, ended[0].Status().Code)
			assert.Len(t, ended[0].Events(), tt.events)
			assert.Contains(t, ended[0].Attributes(), attribute.String("address.id", "a-1"))
		})
	}
}
