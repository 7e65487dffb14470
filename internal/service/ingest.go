// Package service implements ingestion and query on top of routing and the
// storage adapters.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/postpipe/connector/internal/events"
	"github.com/postpipe/connector/internal/logging"
	"github.com/postpipe/connector/internal/metrics"
	"github.com/postpipe/connector/internal/middleware"
	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/routing"
	"github.com/postpipe/connector/internal/security"
	"github.com/postpipe/connector/internal/storage"
	"github.com/postpipe/connector/internal/targets"
)

// DefaultTaskTimeout bounds one delivery so a slow sink cannot stall the
// whole request.
const DefaultTaskTimeout = 30 * time.Second

// Status is the aggregate result of an ingestion.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// DeliveryResult is the outcome of one delivery task.
type DeliveryResult struct {
	Target     string          `json:"target"`
	Kind       models.Kind     `json:"kind"`
	Role       routing.Role    `json:"role"`
	Outcome    storage.Outcome `json:"outcome"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"durationMs"`
}

// IngestResult aggregates every delivery of one submission.
type IngestResult struct {
	Status  Status           `json:"status"`
	Stored  bool             `json:"stored"`
	Results []DeliveryResult `json:"results"`
}

// HTTPStatus maps the aggregate onto a response code: all stored 200, some
// stored 207, none stored 500.
func (r *IngestResult) HTTPStatus() int {
	switch r.Status {
	case StatusOK:
		return http.StatusOK
	case StatusPartial:
		return http.StatusMultiStatus
	}
	return http.StatusInternalServerError
}

func aggregate(results []DeliveryResult) *IngestResult {
	succeeded := 0
	for _, r := range results {
		if r.Outcome.Succeeded() {
			succeeded++
		}
	}
	res := &IngestResult{Results: results, Stored: succeeded > 0}
	switch {
	case succeeded == len(results):
		res.Status = StatusOK
	case succeeded > 0:
		res.Status = StatusPartial
	default:
		res.Status = StatusError
	}
	return res
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	// Skew is the allowed distance between payload timestamp and now.
	Skew time.Duration
	// TaskTimeout bounds each delivery.
	TaskTimeout time.Duration
	// MaxConcurrency caps parallel deliveries per request; 0 is unlimited.
	MaxConcurrency int
	// DefaultKind is used when no hint or name resolves an engine.
	DefaultKind models.Kind
}

// IngestService verifies, expands and delivers submissions.
type IngestService struct {
	signer    *security.Signer
	resolver  *targets.Resolver
	adapters  *storage.Set
	publisher events.Publisher
	logger    *logging.Logger
	cfg       IngestConfig
	now       func() time.Time
}

// NewIngestService wires the pipeline.
func NewIngestService(signer *security.Signer, resolver *targets.Resolver, adapters *storage.Set,
	publisher events.Publisher, logger *logging.Logger, cfg IngestConfig) *IngestService {
	if cfg.Skew <= 0 {
		cfg.Skew = security.DefaultSkew
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &IngestService{
		signer:    signer,
		resolver:  resolver,
		adapters:  adapters,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Ingest runs the pipeline over the raw request body. A returned error means
// the request was rejected before any delivery; sink failures are reported
// in the result instead.
func (s *IngestService) Ingest(ctx context.Context, clientIP string, body []byte, signature string) (*IngestResult, error) {
	var p models.IngestPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %v", ErrValidation, err)
	}
	if p.FormID == "" || p.SubmissionID == "" {
		return nil, fmt.Errorf("%w: formId and submissionId are required", ErrValidation)
	}
	if err := routing.Validate(&p, s.resolver.DefaultTarget()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	now := s.now()
	ts, err := models.ParseTimestamp(p.Timestamp)
	if err != nil {
		s.logRejected(ctx, "expired", clientIP, &p)
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, security.ErrExpired)
	}
	if err := security.CheckFreshness(ts, now, s.cfg.Skew); err != nil {
		s.logRejected(ctx, "expired", clientIP, &p)
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if err := s.signer.Verify(body, signature); err != nil {
		s.logRejected(ctx, "bad_signature", clientIP, &p)
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	tasks := routing.Expand(&p, ts, s.resolver.DefaultTarget())
	metrics.TasksPerSubmission.Observe(float64(len(tasks)))

	results := make([]DeliveryResult, len(tasks))
	var g errgroup.Group
	if s.cfg.MaxConcurrency > 0 {
		g.SetLimit(s.cfg.MaxConcurrency)
	}
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = s.deliver(ctx, task, now)
			return nil
		})
	}
	_ = g.Wait()

	res := aggregate(results)
	s.logger.InfoContext(ctx, "submission processed",
		logging.FormID(p.FormID),
		logging.SubmissionID(p.SubmissionID),
		logging.Status(res.HTTPStatus()),
		"tasks", len(tasks),
	)
	return res, nil
}

func (s *IngestService) logRejected(ctx context.Context, reason, clientIP string, p *models.IngestPayload) {
	metrics.AuthFailures.WithLabelValues(reason).Inc()
	s.logger.WarnContext(ctx, "submission rejected",
		"reason", reason,
		logging.IP(clientIP),
		logging.FormID(p.FormID),
		logging.SubmissionID(p.SubmissionID),
	)
}

// deliver runs one task to completion. It is detached from request
// cancellation: once started, a write finishes or fails on its own deadline.
func (s *IngestService) deliver(ctx context.Context, task routing.Task, receivedAt time.Time) DeliveryResult {
	start := time.Now()
	kind := storage.ResolveKind(task.ExplicitType(), task.Target(), s.resolver, s.cfg.DefaultKind)
	result := DeliveryResult{Target: task.Target(), Kind: kind, Role: task.Role()}

	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TaskTimeout)
	defer cancel()

	outcome, class, err := s.insert(taskCtx, kind, task, receivedAt)
	result.Outcome = outcome
	result.DurationMS = time.Since(start).Milliseconds()

	metrics.DeliveriesTotal.WithLabelValues(string(kind), string(task.Role()), string(outcome)).Inc()
	metrics.DeliveryDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())

	var detail string
	if err != nil {
		sinkErr := &storage.SinkError{Target: task.Target(), Kind: kind, Class: class, Err: err}
		result.Error = sinkErr.Public()
		detail = sinkErr.Error()
		s.logger.ErrorContext(ctx, "delivery failed",
			logging.Target(task.Target()),
			logging.Kind(string(kind)),
			"role", string(task.Role()),
			"failure", string(class),
			logging.Error(err),
		)
	} else {
		s.logger.DebugContext(ctx, "delivery complete",
			logging.Target(task.Target()),
			logging.Kind(string(kind)),
			"outcome", string(outcome),
			logging.Duration(result.DurationMS),
		)
	}

	sub := task.Submission(receivedAt)
	event := events.DeliveryEvent{
		FormID:       sub.FormID,
		SubmissionID: sub.SubmissionID,
		Target:       task.Target(),
		Kind:         string(kind),
		Role:         string(task.Role()),
		Outcome:      string(outcome),
		DurationMS:   result.DurationMS,
		Error:        detail,
		RequestID:    middleware.GetRequestID(ctx),
		OccurredAt:   s.now(),
	}
	if err := s.publisher.Publish(taskCtx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish delivery event", logging.Target(task.Target()), logging.Error(err))
	}
	return result
}

func (s *IngestService) insert(ctx context.Context, kind models.Kind, task routing.Task, receivedAt time.Time) (storage.Outcome, storage.FailureClass, error) {
	adapter, err := s.adapters.Get(kind)
	if err != nil {
		return storage.OutcomeFailed, storage.FailureAdapterUnavailable, err
	}
	hint := task.Hint()
	if err := adapter.Connect(ctx, hint); err != nil {
		return storage.OutcomeFailed, storage.Classify(storage.FailureConnectionUnavailable, err), err
	}
	outcome, err := adapter.Insert(ctx, hint, task.Submission(receivedAt))
	if err != nil {
		return storage.OutcomeFailed, storage.Classify(storage.FailureInsertFailed, err), err
	}
	return outcome, "", nil
}

// IsAuthError reports whether err rejected a request on authentication.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
