package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charmntreats/addressvault/pkg/health"
	"github.com/charmntreats/addressvault/pkg/middleware"
)

// RouterConfig carries the optional parts of the router.
type RouterConfig struct {
	CORS              middleware.CORSConfig
	RateLimiter       *middleware.RateLimiter
	PprofEnabled      bool
	PprofAllowedCIDRs []string
}

// NewRouter creates a chi router with all address service routes registered.
func NewRouter(
	addressService AddressService,
	validate middleware.TokenValidator,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing("address"))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("address"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if cfg.PprofEnabled {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)
	}

	h := NewAddressHandler(addressService, logger)
	r.Route("/api/v1/addresses", func(r chi.Router) {
		r.Use(requireJSON)
		r.Use(middleware.Auth(validate))
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Handler)
		}

		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/default", h.GetDefault)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Put("/{id}/default", h.SetDefault)
	})

	return r
}
