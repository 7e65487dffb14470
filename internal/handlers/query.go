package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/postpipe/connector/internal/httputil"
	"github.com/postpipe/connector/internal/logging"
	"github.com/postpipe/connector/internal/metrics"
	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/service"
)

// Querier reads stored submissions.
type Querier interface {
	Query(ctx context.Context, req service.QueryRequest) ([]models.Submission, error)
}

type QueryHandler struct {
	service Querier
	logger  *logging.Logger
}

func NewQueryHandler(svc Querier, logger *logging.Logger) *QueryHandler {
	return &QueryHandler{service: svc, logger: logger}
}

// Data serves GET /data?formId&limit&targetDatabase&databaseConfig.
func (h *QueryHandler) Data(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	req := service.QueryRequest{
		FormID:   q.Get("formId"),
		FormName: q.Get("formName"),
		Limit:    httputil.ParseIntParam(q.Get("limit"), service.DefaultQueryLimit),
		Target:   q.Get("targetDatabase"),
		Type:     q.Get("dbType"),
		Config:   h.databaseConfig(r),
	}

	subs, err := h.service.Query(r.Context(), req)
	status := http.StatusOK
	if err != nil {
		status = h.queryErrorStatus(r, err)
		httputil.WriteError(w, status, queryErrorMessage(status, err))
	} else {
		httputil.WriteJSON(w, status, map[string]interface{}{
			"success": true,
			"count":   len(subs),
			"data":    subs,
		})
	}
	metrics.RequestsTotal.WithLabelValues("data", strconv.Itoa(status)).Inc()
	metrics.RequestDuration.WithLabelValues("data").Observe(time.Since(start).Seconds())
}

// FormSubmissions serves GET /forms/{formId}/submissions.
func (h *QueryHandler) FormSubmissions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	req := service.QueryRequest{
		FormID:   r.PathValue("formId"),
		FormName: q.Get("formName"),
		Limit:    httputil.ParseIntParam(q.Get("limit"), service.DefaultQueryLimit),
		Target:   q.Get("targetDatabase"),
		Type:     q.Get("dbType"),
		Config:   h.databaseConfig(r),
	}

	subs, err := h.service.Query(r.Context(), req)
	status := http.StatusOK
	if err != nil {
		status = h.queryErrorStatus(r, err)
		httputil.WriteStatusError(w, status, queryErrorMessage(status, err))
	} else {
		httputil.WriteJSON(w, status, map[string]interface{}{
			"status": "ok",
			"data":   subs,
		})
	}
	metrics.RequestsTotal.WithLabelValues("form_submissions", strconv.Itoa(status)).Inc()
	metrics.RequestDuration.WithLabelValues("form_submissions").Observe(time.Since(start).Seconds())
}

// databaseConfig decodes the databaseConfig query parameter. Invalid JSON is
// ignored so the read falls back to normal resolution.
func (h *QueryHandler) databaseConfig(r *http.Request) *models.DatabaseConfig {
	raw := r.URL.Query().Get("databaseConfig")
	if raw == "" {
		return nil
	}
	var cfg models.DatabaseConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		h.logger.WarnContext(r.Context(), "ignoring invalid databaseConfig", logging.Error(err))
		return nil
	}
	return &cfg
}

func (h *QueryHandler) queryErrorStatus(r *http.Request, err error) int {
	if errors.Is(err, service.ErrValidation) {
		return http.StatusBadRequest
	}
	h.logger.ErrorContext(r.Context(), "query failed", logging.Error(err))
	return http.StatusInternalServerError
}

func queryErrorMessage(status int, err error) string {
	if status == http.StatusBadRequest {
		return err.Error()
	}
	return "Failed to fetch submissions"
}
