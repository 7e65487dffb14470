// Package ratelimit caps requests per client key.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/postpipe/connector/internal/metrics"
)

// Defaults mirror the connector's historical limits.
const (
	DefaultLimit  = 100
	DefaultWindow = time.Minute
)

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// memoryRateLimiter is a per-process fixed window: a key's count resets once
// its window has elapsed.
type memoryRateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]*fixedWindow
	stop    chan struct{}
	once    sync.Once
}

type fixedWindow struct {
	start time.Time
	count int
}

// NewMemoryRateLimiter returns a fixed-window limiter. Expired windows are
// swept once per window so idle clients do not accumulate.
func NewMemoryRateLimiter(limit int, window time.Duration) RateLimiter {
	l := newMemoryRateLimiter(limit, window, time.Now)
	go l.sweepLoop()
	return l
}

func newMemoryRateLimiter(limit int, window time.Duration, now func() time.Time) *memoryRateLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &memoryRateLimiter{
		limit:   limit,
		window:  window,
		now:     now,
		windows: make(map[string]*fixedWindow),
		stop:    make(chan struct{}),
	}
}

func (m *memoryRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) > m.window {
		w = &fixedWindow{start: now}
		m.windows[key] = w
	}
	w.count++
	allowed := w.count <= m.limit
	m.mu.Unlock()

	if !allowed {
		metrics.RateLimitHits.Inc()
	}
	return allowed, nil
}

func (m *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(m.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *memoryRateLimiter) sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, w := range m.windows {
		if now.Sub(w.start) > m.window {
			delete(m.windows, key)
		}
	}
}

func (m *memoryRateLimiter) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

type redisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisRateLimiter returns a sliding-window limiter shared by every
// replica using the same Redis.
func NewRedisRateLimiter(redisURL string, limit int, window time.Duration) (RateLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &redisRateLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}, nil
}

// slidingWindow trims entries older than the window, then admits the request
// if fewer than limit remain. Members are unique per request.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

	local current = redis.call('ZCARD', key)
	if current < limit then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, ttl)
		return 1
	end
	return 0
`)

// Allow implements sliding window rate limiting using Redis
func (r *redisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixNano()
	windowStart := now - r.window.Nanoseconds()
	member := fmt.Sprintf("%d-%s", now, key)

	result, err := slidingWindow.Run(ctx, r.client, []string{"postpipe:ratelimit:" + key},
		now, windowStart, r.limit, r.window.Milliseconds(), member).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed := result == 1
	if !allowed {
		metrics.RateLimitHits.Inc()
	}

	return allowed, nil
}

func (r *redisRateLimiter) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// NoOpRateLimiter always allows requests (for testing or disabled rate limiting)
type NoOpRateLimiter struct{}

func (n *NoOpRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (n *NoOpRateLimiter) Close() error {
	return nil
}
