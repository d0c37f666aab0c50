// Package ratelimit enforces fixed-window request quotas.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Window is the length of one quota window.
	Window    = time.Minute
	keyPrefix = "ratelimit:"
)

var errInvalidLimit = errors.New("ratelimit: limit must be positive")

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per bucket.
type Limiter interface {
	Allow(ctx context.Context, bucket string) (Decision, error)
}

func windowStart(now time.Time) time.Time {
	return now.Truncate(Window)
}

func decide(limit int, count int64, now time.Time) Decision {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	decision := Decision{Allowed: count <= int64(limit), Limit: limit, Remaining: remaining}
	if !decision.Allowed {
		decision.RetryAfter = windowStart(now).Add(Window).Sub(now)
	}
	return decision
}

// WindowKey returns the redis key counting bucket during the window containing now.
func WindowKey(bucket string, now time.Time) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, bucket, windowStart(now).Unix())
}

type windowCount struct {
	start time.Time
	count int64
}

// MemoryLimiter keeps counters in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	clock   func() time.Time
	buckets map[string]windowCount
}

// NewMemoryLimiter constructs an in-process limiter allowing limit requests per window.
func NewMemoryLimiter(limit int, clock func() time.Time) (*MemoryLimiter, error) {
	if limit <= 0 {
		return nil, errInvalidLimit
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{limit: limit, clock: clock, buckets: make(map[string]windowCount)}, nil
}

// Allow counts one request for bucket.
func (l *MemoryLimiter) Allow(_ context.Context, bucket string) (Decision, error) {
	now := l.clock()
	start := windowStart(now)

	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.buckets[bucket]
	if !entry.start.Equal(start) {
		l.prune(start)
		entry = windowCount{start: start}
	}
	entry.count++
	l.buckets[bucket] = entry
	return decide(l.limit, entry.count, now), nil
}

func (l *MemoryLimiter) prune(current time.Time) {
	for bucket, entry := range l.buckets {
		if entry.start.Before(current) {
			delete(l.buckets, bucket)
		}
	}
}

// RedisLimiter keeps counters in redis so every API instance shares one quota.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int
	clock  func() time.Time
}

// NewRedisLimiter constructs a limiter backed by client.
func NewRedisLimiter(client redis.Cmdable, limit int, clock func() time.Time) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if limit <= 0 {
		return nil, errInvalidLimit
	}
	if clock == nil {
		clock = time.Now
	}
	return &RedisLimiter{client: client, limit: limit, clock: clock}, nil
}

// Allow increments the bucket's window counter and sets its expiry in one round trip.
func (l *RedisLimiter) Allow(ctx context.Context, bucket string) (Decision, error) {
	now := l.clock()
	key := WindowKey(bucket, now)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis pipeline: %w", err)
	}
	return decide(l.limit, incr.Val(), now), nil
}
