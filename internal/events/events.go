// Package events publishes one notification per delivery outcome. Events are
// best-effort and not a delivery queue: a lost event is never replayed.
package events

import (
	"context"
	"time"
)

// DeliveryEvent describes the outcome of one delivery task.
type DeliveryEvent struct {
	FormID       string    `json:"formId"`
	SubmissionID string    `json:"submissionId"`
	Target       string    `json:"target"`
	Kind         string    `json:"kind"`
	Role         string    `json:"role"`
	Outcome      string    `json:"outcome"`
	DurationMS   int64     `json:"durationMs"`
	Error        string    `json:"error,omitempty"`
	RequestID    string    `json:"requestId,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// Publisher emits delivery events.
type Publisher interface {
	Publish(ctx context.Context, event DeliveryEvent) error
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, DeliveryEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }
