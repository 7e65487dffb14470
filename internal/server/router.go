package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postpipe/connector/internal/handlers"
	"github.com/postpipe/connector/internal/httputil"
	"github.com/postpipe/connector/internal/logging"
	"github.com/postpipe/connector/internal/middleware"
	"github.com/postpipe/connector/internal/ratelimit"
)

// Handlers groups the endpoint implementations mounted by NewRouter.
type Handlers struct {
	Ingest      *handlers.IngestHandler
	Query       *handlers.QueryHandler
	Diagnostics *handlers.DiagnosticsHandler
	Auth        handlers.Authenticator
}

// Options configures the middleware chain.
type Options struct {
	MaxBodyBytes   int64
	CORS           middleware.CORSConfig
	Limiter        ratelimit.RateLimiter
	TrustedProxies *httputil.TrustedProxies
	Logger         *logging.Logger
}

// NewRouter constructs a ServeMux with the connector routes registered. Every
// route is rate limited; read routes additionally require a token.
func NewRouter(h Handlers, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}

	mux := http.NewServeMux()

	ingest := middleware.MaxBody(opts.MaxBodyBytes)(h.Ingest)
	mux.Handle("POST /ingest", ingest)
	mux.Handle("POST /postpipe/ingest", ingest)

	requireToken := handlers.RequireToken(h.Auth, logger)
	data := requireToken(http.HandlerFunc(h.Query.Data))
	mux.Handle("GET /data", data)
	mux.Handle("GET /postpipe/data", data)

	submissions := requireToken(http.HandlerFunc(h.Query.FormSubmissions))
	mux.Handle("GET /forms/{formId}/submissions", submissions)
	mux.Handle("GET /api/postpipe/forms/{formId}/submissions", submissions)

	// Health and diagnostics
	mux.HandleFunc("GET /{$}", h.Diagnostics.Root)
	mux.HandleFunc("GET /healthz", h.Diagnostics.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/", h.Diagnostics.NotFound)

	var handler http.Handler = mux
	handler = ratelimit.Middleware(limiter, logger)(handler)
	handler = middleware.CORS(opts.CORS)(handler)
	handler = middleware.ClientIP(opts.TrustedProxies)(handler)
	return middleware.RequestID(handler)
}
