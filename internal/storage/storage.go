// Package storage defines the contract shared by the sink adapters and the
// resolution of a delivery onto one of them.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/targets"
)

// Outcome is the result of one insert.
type Outcome string

const (
	OutcomeStored    Outcome = "stored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Succeeded reports whether the record is durable at the sink.
func (o Outcome) Succeeded() bool {
	return o == OutcomeStored || o == OutcomeDuplicate
}

// QueryOptions narrows a read.
type QueryOptions struct {
	Limit    int
	FormName string
	Hint     targets.Hint
}

// Adapter is a sink for sanitized submissions. Implementations pool their
// connections, so Connect is cheap after the first call per destination.
type Adapter interface {
	Kind() models.Kind
	// Connect establishes (or reuses) the connection for hint and provisions
	// its destination.
	Connect(ctx context.Context, hint targets.Hint) error
	Insert(ctx context.Context, hint targets.Hint, sub models.Submission) (Outcome, error)
	// Query returns submissions of formID, newest receipt first.
	Query(ctx context.Context, formID string, opts QueryOptions) ([]models.Submission, error)
	Close(ctx context.Context) error
}

// FailureClass names the stage a delivery failed at. Unlike the driver
// error it carries no connection detail, so it is safe to return to callers.
type FailureClass string

const (
	FailureAdapterUnavailable    FailureClass = "adapter_unavailable"
	FailureConnectionUnavailable FailureClass = "connection_unavailable"
	FailureInsertFailed          FailureClass = "insert_failed"
	FailureQueryFailed           FailureClass = "query_failed"
	FailureTimeout               FailureClass = "timeout"
)

// Classify picks the class for err raised at stage. Deadline and
// cancellation errors are reported as timeouts regardless of stage.
func Classify(stage FailureClass, err error) FailureClass {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTimeout
	}
	if errors.Is(err, ErrUnknownKind) {
		return FailureAdapterUnavailable
	}
	return stage
}

// SinkError is a failed delivery to one target.
type SinkError struct {
	Target string
	Kind   models.Kind
	Class  FailureClass
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s sink %q: %v", e.Kind, e.Target, e.Err)
}

// Public describes the failure without the underlying cause. Driver errors
// may quote connection strings and environment values, so only Public is
// fit for a response body.
func (e *SinkError) Public() string {
	class := e.Class
	if class == "" {
		class = Classify(FailureInsertFailed, e.Err)
	}
	return fmt.Sprintf("%s sink %q: %s", e.Kind, e.Target, class)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// ErrUnknownKind is returned when no adapter is registered for a kind.
var ErrUnknownKind = errors.New("no adapter for storage kind")
