package middleware

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"net/netip"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/charmntreats/addressvault/pkg/errors"
	"github.com/charmntreats/addressvault/pkg/httputil"
)

// RegisterPprof mounts the runtime profiler under /debug/pprof for peers in
// allowedCIDRs. Useful when the local store's lock or quota is suspected of
// stalling writes.
func RegisterPprof(r chi.Router, allowedCIDRs []string, logger *slog.Logger) {
	r.Route("/debug/pprof", func(r chi.Router) {
		r.Use(IPAllowlist(allowedCIDRs, logger))
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)
		r.HandleFunc("/*", pprof.Index)
	})
}

// IPAllowlist admits only requests whose TCP peer lies in one of cidrs.
// Forwarded headers are ignored. Unparseable entries are logged and dropped,
// so a list with no valid entry denies everyone.
func IPAllowlist(cidrs []string, logger *slog.Logger) func(http.Handler) http.Handler {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			logger.Warn("ignoring invalid allowlist entry", slog.String("cidr", c), slog.String("error", err.Error()))
			continue
		}
		prefixes = append(prefixes, p.Masked())
	}

	permitted := func(remoteAddr string) bool {
		addrPort, err := netip.ParseAddrPort(remoteAddr)
		var addr netip.Addr
		if err == nil {
			addr = addrPort.Addr()
		} else if addr, err = netip.ParseAddr(remoteAddr); err != nil {
			return false
		}
		addr = addr.Unmap()
		for _, p := range prefixes {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !permitted(r.RemoteAddr) {
				logger.Warn("debug endpoint refused", slog.String("peer", r.RemoteAddr), slog.String("path", r.URL.Path))
				httputil.WriteError(w, r, apperrors.Forbidden("debug endpoints are restricted by network"), logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
