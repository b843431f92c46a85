package httpserver

import (
	"net/http"
	"strings"

	"github.com/lchangra/lchangra-signal/internal/metrics"
)

// originMiddleware rejects cross-origin requests the policy does not allow
// and answers CORS for the ones it does. Requests without an Origin header
// (curl, health checkers) pass untouched.
func (s *Server) originMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Origin"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, ok := s.origins.Check(header, r.Host)
			if !ok {
				s.metrics.Inc(metrics.DropReasonOriginRejected)
				s.log.Debug("origin rejected", "origin", header, "path", r.URL.Path)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Expose-Headers", requestIDHeader)
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				if reqHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); reqHeaders != "" {
					w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
				}
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
