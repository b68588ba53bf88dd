package handlers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/requestctx"
)

// RateLimiter reports whether another request identified by key may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

type simpleRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]rateEntry
}

type rateEntry struct {
	count int
	reset time.Time
}

// NewMemoryRateLimiter counts requests per key in fixed windows within this process.
// A non-positive limit or window disables limiting.
func NewMemoryRateLimiter(limit int, window time.Duration, clock func() time.Time) RateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &simpleRateLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]rateEntry),
	}
}

func (l *simpleRateLimiter) Allow(_ context.Context, key string) bool {
	if l == nil {
		return true
	}
	key = normaliseRateKey(key)
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || now.After(entry.reset) {
		l.store[key] = rateEntry{count: 1, reset: now.Add(l.window)}
		l.pruneExpiredLocked(now)
		return true
	}

	if entry.count >= l.limit {
		return false
	}
	entry.count++
	l.store[key] = entry
	return true
}

func (l *simpleRateLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if now.After(entry.reset) {
			delete(l.store, key)
		}
	}
}

// windowCounter increments the counter for key and returns the count within the current window.
type windowCounter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

type redisWindowCounter struct {
	client redis.Cmdable
}

func (c redisWindowCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

type redisRateLimiter struct {
	counter windowCounter
	prefix  string
	limit   int
	window  time.Duration
}

// NewRedisRateLimiter shares fixed-window counters across instances through Redis.
// Redis failures admit the request.
func NewRedisRateLimiter(client redis.Cmdable, prefix string, limit int, window time.Duration) RateLimiter {
	if client == nil || limit <= 0 || window <= 0 {
		return nil
	}
	return newCounterRateLimiter(redisWindowCounter{client: client}, prefix, limit, window)
}

func newCounterRateLimiter(counter windowCounter, prefix string, limit int, window time.Duration) *redisRateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &redisRateLimiter{counter: counter, prefix: prefix, limit: limit, window: window}
}

func (l *redisRateLimiter) Allow(ctx context.Context, key string) bool {
	count, err := l.counter.Increment(ctx, l.prefix+":"+normaliseRateKey(key), l.window)
	if err != nil {
		requestctx.Logger(ctx).Warn("rate limit store unavailable", zap.Error(err))
		return true
	}
	return count <= int64(l.limit)
}

func normaliseRateKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "anonymous"
	}
	return key
}
