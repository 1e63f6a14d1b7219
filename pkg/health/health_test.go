package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	up   Checker = func(context.Context) error { return nil }
	down Checker = func(context.Context) error { return errors.New("dial tcp: connection refused") }
)

func ready(t *testing.T, h *Handler) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestLiveness(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewHandler()
	h.now = func() time.Time { return fixed }
	h.RegisterCritical("local_store", down)

	rec := httptest.NewRecorder()
	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"status":"up","timestamp":"2026-03-01T12:00:00Z"}`, rec.Body.String())
}

func TestReadiness_TierOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		local      Checker
		primary    Checker
		secondary  Checker
		wantCode   int
		wantStatus Status
	}{
		{"all tiers up", up, up, up, http.StatusOK, StatusUp},
		{"primary down keeps serving", up, down, up, http.StatusOK, StatusDegraded},
		{"remote tiers down keeps serving", up, down, down, http.StatusOK, StatusDegraded},
		{"local store down", down, up, up, http.StatusServiceUnavailable, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			h.RegisterCritical("local_store", tt.local)
			h.RegisterNonCritical("primary", tt.primary)
			h.RegisterNonCritical("secondary", tt.secondary)

			code, resp := ready(t, h)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Checks, 3)
			assert.True(t, resp.Checks["local_store"].Critical)
			assert.False(t, resp.Checks["primary"].Critical)
		})
	}
}

func TestReadiness_ReportsCheckError(t *testing.T) {
	h := NewHandler()
	h.RegisterNonCritical("kafka", down)

	_, resp := ready(t, h)
	res := resp.Checks["kafka"]
	assert.Equal(t, StatusDown, res.Status)
	assert.Contains(t, res.Error, "connection refused")
	assert.NotEmpty(t, res.Latency)
}

func TestReadiness_NoChecksIsUp(t *testing.T) {
	code, resp := ready(t, NewHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusUp, resp.Status)
}

func TestReadiness_HungCheckTimesOut(t *testing.T) {
	h := NewHandler()
	h.timeout = 20 * time.Millisecond
	h.RegisterNonCritical("primary", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	code, resp := ready(t, h)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Contains(t, resp.Checks["primary"].Error, "deadline exceeded")
}

func TestRegister_ReplacesByName(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("local_store", down)
	h.RegisterCritical("local_store", up)

	code, _ := ready(t, h)
	assert.Equal(t, http.StatusOK, code)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, StatusUp, Summarize(nil))
	assert.Equal(t, StatusDegraded, Summarize(map[string]CheckResult{
		"a": {Status: StatusDown},
		"b": {Status: StatusUp, Critical: true},
	}))
	assert.Equal(t, StatusDown, Summarize(map[string]CheckResult{
		"a": {Status: StatusDown},
		"b": {Status: StatusDown, Critical: true},
	}))
}
