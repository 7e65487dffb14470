package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/postpipe/connector/internal/logging"
	"github.com/postpipe/connector/internal/metrics"
)

// DefaultSubjectPrefix prefixes the outcome in every subject.
const DefaultSubjectPrefix = "postpipe.deliveries"

// Config holds NATS publisher configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// SubjectPrefix is prepended to the outcome: <prefix>.stored.
	SubjectPrefix string

	// Name is the client name for connection identification.
	Name string

	// Timeout is the connection timeout.
	Timeout time.Duration

	// Token for token-based authentication (optional).
	Token string
}

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes delivery events as JSON to NATS core subjects.
type NATSPublisher struct {
	conn   conn
	prefix string
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg Config, logger *logging.Logger) (*NATSPublisher, error) {
	if cfg.Name == "" {
		cfg.Name = "postpipe-connector"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newNATSPublisher(nc, cfg.SubjectPrefix), nil
}

func newNATSPublisher(c conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: c, prefix: prefix}
}

// Subject returns the subject an outcome is published on.
func (p *NATSPublisher) Subject(outcome string) string {
	return p.prefix + "." + outcome
}

func (p *NATSPublisher) Publish(ctx context.Context, event DeliveryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(event.Outcome), data); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish event: %w", err)
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
	return nil
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
