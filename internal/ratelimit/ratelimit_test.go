package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpipe/connector/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryRateLimiter_FixedWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newMemoryRateLimiter(3, time.Minute, clock.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}
	allowed, _ := l.Allow(ctx, "1.2.3.4")
	assert.False(t, allowed)

	// other clients are independent
	allowed, _ = l.Allow(ctx, "5.6.7.8")
	assert.True(t, allowed)

	// the window resets only once it has fully elapsed
	clock.Advance(time.Minute)
	allowed, _ = l.Allow(ctx, "1.2.3.4")
	assert.False(t, allowed)

	clock.Advance(time.Second)
	allowed, _ = l.Allow(ctx, "1.2.3.4")
	assert.True(t, allowed)
}

func TestMemoryRateLimiter_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	l := newMemoryRateLimiter(1, time.Minute, clock.Now)
	_, _ = l.Allow(context.Background(), "a")
	_, _ = l.Allow(context.Background(), "b")

	clock.Advance(2 * time.Minute)
	l.sweep()
	assert.Empty(t, l.windows)
}

func TestMemoryRateLimiter_Defaults(t *testing.T) {
	l := newMemoryRateLimiter(0, 0, time.Now)
	assert.Equal(t, DefaultLimit, l.limit)
	assert.Equal(t, DefaultWindow, l.window)

	started := NewMemoryRateLimiter(1, time.Second)
	assert.NoError(t, started.Close())
	assert.NoError(t, started.Close())
}

func TestRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)

	limiter, err := NewRedisRateLimiter("redis://"+mr.Addr(), 5, time.Minute)
	require.NoError(t, err)
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}

	allowed, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.True(t, mr.Exists("postpipe:ratelimit:10.0.0.1"))
}

func TestRedisRateLimiter_BackendDown(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := NewRedisRateLimiter("redis://"+mr.Addr(), 5, time.Minute)
	require.NoError(t, err)
	defer limiter.Close()

	mr.Close()
	_, err = limiter.Allow(context.Background(), "k")
	assert.Error(t, err)
}

func TestNewRedisRateLimiter_InvalidURL(t *testing.T) {
	_, err := NewRedisRateLimiter("not-a-valid-url", 100, time.Minute)
	assert.Error(t, err)
}

func TestNoOpRateLimiter(t *testing.T) {
	limiter := &NoOpRateLimiter{}
	for i := 0; i < 10; i++ {
		allowed, err := limiter.Allow(context.Background(), "any")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.NoError(t, limiter.Close())
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}

func (failingLimiter) Close() error { return nil }

func TestMiddleware(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	limiter := newMemoryRateLimiter(1, time.Minute, clock.Now)
	handler := Middleware(limiter, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/ingest", nil)
	req.RemoteAddr = "192.0.2.1:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"Too Many Requests"}`, rec.Body.String())
}

func TestMiddleware_IgnoresSpoofedForwardedFor(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	limiter := newMemoryRateLimiter(2, time.Minute, clock.Now)
	handler := Middleware(limiter, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/ingest", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusNoContent {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
}

func TestMiddleware_FailsOpen(t *testing.T) {
	handler := Middleware(failingLimiter{}, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
