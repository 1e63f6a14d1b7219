package service

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var localOnlyGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "address_local_only_mode",
	Help: "1 when the address service has stopped calling remote tiers for the rest of the process lifetime.",
})

// LocalOnlyBreaker records whether remote tiers have been given up on. Once
// tripped it stays tripped until the process exits; there is no half-open
// state and no reset.
type LocalOnlyBreaker struct {
	active atomic.Bool
	logger *slog.Logger

	mu        sync.Mutex
	reason    string
	trippedAt time.Time
}

// NewLocalOnlyBreaker creates a breaker. startLocalOnly skips the remote
// tiers from the first call.
func NewLocalOnlyBreaker(startLocalOnly bool, logger *slog.Logger) *LocalOnlyBreaker {
	b := &LocalOnlyBreaker{logger: logger}
	if startLocalOnly {
		b.active.Store(true)
		b.reason = "configured to start in local-only mode"
		b.trippedAt = time.Now().UTC()
		localOnlyGauge.Set(1)
	} else {
		localOnlyGauge.Set(0)
	}
	return b
}

// Active reports whether calls must go straight to the local tier.
func (b *LocalOnlyBreaker) Active() bool {
	return b.active.Load()
}

// Trip switches to local-only mode. It reports whether this call made the
// switch; later calls are no-ops.
func (b *LocalOnlyBreaker) Trip(reason string) bool {
	if !b.active.CompareAndSwap(false, true) {
		return false
	}
	b.mu.Lock()
	b.reason = reason
	b.trippedAt = time.Now().UTC()
	b.mu.Unlock()

	localOnlyGauge.Set(1)
	b.logger.Warn("switching to local-only mode for the rest of the process",
		slog.String("reason", reason),
	)
	return true
}

// Reason returns why the breaker tripped and when. Both are zero while
// remote tiers are still in use.
func (b *LocalOnlyBreaker) Reason() (string, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason, b.trippedAt
}
