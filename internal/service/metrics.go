package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/charmntreats/addressvault/pkg/errors"
)

var (
	tierCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "address_tier_calls_total",
		Help: "Calls made to each address tier by operation and outcome.",
	}, []string{"tier", "operation", "outcome"})

	tierCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "address_tier_call_duration_seconds",
		Help:    "Latency of calls made to each address tier.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tier", "operation"})

	fallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "address_fallbacks_total",
		Help: "Times an operation moved past a tier because it was unavailable.",
	}, []string{"tier", "operation"})

	mirrorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "address_mirror_failures_total",
		Help: "Remote results that could not be copied into the local tier.",
	}, []string{"operation"})
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperrors.IsNotFound(err):
		return "not_found"
	case apperrors.IsTransport(err):
		return "unavailable"
	default:
		return "error"
	}
}
