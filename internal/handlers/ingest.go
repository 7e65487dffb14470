// Package handlers exposes the connector over HTTP.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/postpipe/connector/internal/httputil"
	"github.com/postpipe/connector/internal/logging"
	"github.com/postpipe/connector/internal/metrics"
	"github.com/postpipe/connector/internal/security"
	"github.com/postpipe/connector/internal/service"
)

// Ingester is the ingestion pipeline behind POST /ingest.
type Ingester interface {
	Ingest(ctx context.Context, clientIP string, body []byte, signature string) (*service.IngestResult, error)
}

type IngestHandler struct {
	service Ingester
	logger  *logging.Logger
}

func NewIngestHandler(svc Ingester, logger *logging.Logger) *IngestHandler {
	return &IngestHandler{service: svc, logger: logger}
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := h.handle(w, r)
	metrics.RequestsTotal.WithLabelValues("ingest", strconv.Itoa(status)).Inc()
	metrics.RequestDuration.WithLabelValues("ingest").Observe(time.Since(start).Seconds())
}

func (h *IngestHandler) handle(w http.ResponseWriter, r *http.Request) int {
	defer r.Body.Close()
	clientIP := httputil.GetClientIP(r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteStatusError(w, http.StatusRequestEntityTooLarge, "Payload Too Large")
			return http.StatusRequestEntityTooLarge
		}
		httputil.WriteStatusError(w, http.StatusBadRequest, "Unable to read request body")
		return http.StatusBadRequest
	}
	if len(body) == 0 {
		httputil.WriteStatusError(w, http.StatusBadRequest, "Empty request body")
		return http.StatusBadRequest
	}
	metrics.IngestBytesTotal.Add(float64(len(body)))

	res, err := h.service.Ingest(r.Context(), clientIP, body, security.SignatureFromHeader(r.Header))
	if err != nil {
		status, message := ingestErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "ingestion failed", logging.IP(clientIP), logging.Error(err))
		}
		httputil.WriteStatusError(w, status, message)
		return status
	}

	status := res.HTTPStatus()
	httputil.WriteJSON(w, status, res)
	return status
}

func ingestErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, "Invalid Payload Structure"
	case errors.Is(err, service.ErrExpired):
		return http.StatusUnauthorized, "Request Expired"
	case errors.Is(err, service.ErrBadSignature):
		return http.StatusUnauthorized, "Invalid Signature"
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	}
	return http.StatusInternalServerError, "Internal Server Error"
}
