package storage

import (
	"context"
	"time"
)

// Standard timeout durations for sink operations
const (
	// DefaultQueryTimeout bounds reads.
	DefaultQueryTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds inserts and DDL.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultConnectTimeout bounds establishing a new pool or client.
	DefaultConnectTimeout = 15 * time.Second
)

// QueryContext creates a context with DefaultQueryTimeout.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

// WriteContext creates a context with DefaultWriteTimeout.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultWriteTimeout)
}

// ConnectContext creates a context with DefaultConnectTimeout.
func ConnectContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultConnectTimeout)
}
