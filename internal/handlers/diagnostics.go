package handlers

import (
	"net/http"

	"github.com/postpipe/connector/internal/httputil"
)

const (
	ServiceName = "postpipe-connector"
	Version     = "2.1.0"
)

// Diagnostics is the configuration summary reported at GET /. It never
// carries secrets or connection strings.
type Diagnostics struct {
	DefaultKind        string   `json:"defaultKind"`
	HasConnectorID     bool     `json:"hasConnectorId"`
	PostgresConfigured bool     `json:"postgresConfigured"`
	MongoConfigured    bool     `json:"mongoConfigured"`
	Targets            []string `json:"targets"`
}

// Routes lists the endpoints reported by NotFound.
var Routes = []string{
	"GET /",
	"GET /healthz",
	"GET /metrics",
	"POST /ingest",
	"POST /postpipe/ingest",
	"GET /data",
	"GET /postpipe/data",
	"GET /forms/{formId}/submissions",
	"GET /api/postpipe/forms/{formId}/submissions",
}

type DiagnosticsHandler struct {
	info Diagnostics
}

func NewDiagnosticsHandler(info Diagnostics) *DiagnosticsHandler {
	if info.Targets == nil {
		info.Targets = []string{}
	}
	return &DiagnosticsHandler{info: info}
}

func (h *DiagnosticsHandler) Root(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": ServiceName,
		"version": Version,
		"config":  h.info,
	})
}

func (h *DiagnosticsHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (h *DiagnosticsHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":           "Not Found",
		"path":            r.URL.Path,
		"availableRoutes": Routes,
	})
}
