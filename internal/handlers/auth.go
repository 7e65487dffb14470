package handlers

import (
	"errors"
	"net/http"

	"github.com/postpipe/connector/internal/httputil"
	"github.com/postpipe/connector/internal/logging"
	"github.com/postpipe/connector/internal/metrics"
	"github.com/postpipe/connector/internal/security"
)

// Authenticator verifies a read-endpoint token.
type Authenticator interface {
	Authenticate(token string) error
}

// RequireToken guards read endpoints. A missing token is 401, a token that
// fails verification is 403.
func RequireToken(auth Authenticator, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := auth.Authenticate(security.TokenFromRequest(r))
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			ip := httputil.GetClientIP(r)
			if errors.Is(err, security.ErrMissingToken) {
				metrics.AuthFailures.WithLabelValues("missing_token").Inc()
				logger.WarnContext(r.Context(), "missing auth token", logging.IP(ip), logging.Method(r.Method), logging.Path(r.URL.Path))
				httputil.WriteError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
			logger.WarnContext(r.Context(), "invalid auth token", logging.IP(ip), logging.Method(r.Method), logging.Path(r.URL.Path))
			httputil.WriteError(w, http.StatusForbidden, "Forbidden")
		})
	}
}
