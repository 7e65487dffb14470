package ratelimit

import (
	"net/http"

	"github.com/postpipe/connector/internal/httputil"
	"github.com/postpipe/connector/internal/logging"
)

// Middleware rejects requests over the limit with 429. Limiter errors let the
// request through.
func Middleware(limiter RateLimiter, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := httputil.GetClientIP(r)
			allowed, err := limiter.Allow(r.Context(), ip)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					logging.IP(ip), logging.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logger.WarnContext(r.Context(), "rate limit exceeded", logging.IP(ip))
				httputil.WriteError(w, http.StatusTooManyRequests, "Too Many Requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
