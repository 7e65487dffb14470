// Package pool caches lazily established backend handles so that concurrent
// first use of a key performs exactly one initialization.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned once the registry has been shut down.
var ErrClosed = errors.New("pool registry closed")

// lateCloseTimeout bounds closing a handle that finished after Close returned.
const lateCloseTimeout = 10 * time.Second

// Key identifies a handle: the backend endpoint plus a logical name within it.
type Key struct {
	Endpoint string
	Name     string
}

type entry[T any] struct {
	ready chan struct{}
	value T
	err   error
	// abandoned is set, under the registry lock, when Close stopped waiting
	// for this entry. The handle is then closed as soon as it arrives.
	abandoned bool
}

// CreateFunc establishes the handle for a key.
type CreateFunc[T any] func(ctx context.Context) (T, error)

// Registry maps keys to handles. The in-flight initialization is cached, so
// callers arriving while a key is connecting wait for that attempt instead of
// starting their own. A failed attempt is forgotten and the next caller
// retries. The lock is never held while create runs.
type Registry[T any] struct {
	mu      sync.Mutex
	entries map[Key]*entry[T]
	closed  bool
	closer  CloseFunc[T]
}

// CloseFunc releases one handle.
type CloseFunc[T any] func(ctx context.Context, key Key, value T) error

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[Key]*entry[T])}
}

// GetOrCreate returns the handle for key, running create if no handle exists
// or is being created. create runs detached from ctx cancellation so a caller
// that gives up does not fail the initialization for everyone else; ctx only
// bounds how long this caller waits.
func (r *Registry[T]) GetOrCreate(ctx context.Context, key Key, create CreateFunc[T]) (T, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		var zero T
		return zero, ErrClosed
	}
	if e, ok := r.entries[key]; ok {
		r.mu.Unlock()
		return wait(ctx, e)
	}
	e := &entry[T]{ready: make(chan struct{})}
	r.entries[key] = e
	r.mu.Unlock()

	go r.initialize(context.WithoutCancel(ctx), key, e, create)
	return wait(ctx, e)
}

func (r *Registry[T]) initialize(ctx context.Context, key Key, e *entry[T], create CreateFunc[T]) {
	value, err := create(ctx)

	r.mu.Lock()
	e.value, e.err = value, err
	if err != nil && r.entries[key] == e {
		delete(r.entries, key)
	}
	close(e.ready)
	abandoned, closer := e.abandoned, r.closer
	r.mu.Unlock()

	if abandoned && err == nil && closer != nil {
		ctx, cancel := context.WithTimeout(ctx, lateCloseTimeout)
		defer cancel()
		_ = closer(ctx, key, value)
	}
}

func wait[T any](ctx context.Context, e *entry[T]) (T, error) {
	select {
	case <-e.ready:
		return e.value, e.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Len returns the number of cached or in-flight keys.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Ready reports whether key has a successfully initialized handle.
func (r *Registry[T]) Ready(key Key) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-e.ready:
		return e.err == nil
	default:
		return false
	}
}

// Close waits for in-flight initializations, passes every live handle to
// closer and rejects further use. Errors from closer are joined. An
// initialization still running when ctx ends is not waited for; its handle
// is passed to closer once it is established.
func (r *Registry[T]) Close(ctx context.Context, closer CloseFunc[T]) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.closer = closer
	entries := r.entries
	r.entries = make(map[Key]*entry[T])
	r.mu.Unlock()

	var errs []error
	for key, e := range entries {
		select {
		case <-e.ready:
		case <-ctx.Done():
			if !r.readyOrAbandon(e) {
				errs = append(errs, ctx.Err())
				continue
			}
		}
		if e.err != nil || closer == nil {
			continue
		}
		if err := closer(ctx, key, e.value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// readyOrAbandon reports whether e has finished. An unfinished entry is
// marked so that initialize closes its handle instead.
func (r *Registry[T]) readyOrAbandon(e *entry[T]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-e.ready:
		return true
	default:
		e.abandoned = true
		return false
	}
}
