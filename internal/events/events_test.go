package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu      sync.Mutex
	msgs    []published
	err     error
	drained bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject: subject, data: data})
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func TestNATSPublisher_Publish(t *testing.T) {
	c := &fakeConn{}
	p := newNATSPublisher(c, "")

	event := DeliveryEvent{
		FormID:       "f1",
		SubmissionID: "s1",
		Target:       "db-a",
		Kind:         "postgres",
		Role:         "broadcast",
		Outcome:      "stored",
		DurationMS:   12,
		OccurredAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), event))

	require.Len(t, c.msgs, 1)
	assert.Equal(t, "postpipe.deliveries.stored", c.msgs[0].subject)

	var got DeliveryEvent
	require.NoError(t, json.Unmarshal(c.msgs[0].data, &got))
	assert.Equal(t, event, got)

	require.NoError(t, p.Close())
	assert.True(t, c.drained)
}

func TestNATSPublisher_CustomPrefixAndErrors(t *testing.T) {
	c := &fakeConn{err: errors.New("nats: connection closed")}
	p := newNATSPublisher(c, "acme.events")
	assert.Equal(t, "acme.events.failed", p.Subject("failed"))

	err := p.Publish(context.Background(), DeliveryEvent{Outcome: "failed"})
	assert.ErrorContains(t, err, "connection closed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, DeliveryEvent{}), context.Canceled)
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), DeliveryEvent{}))
	assert.NoError(t, p.Close())
}
