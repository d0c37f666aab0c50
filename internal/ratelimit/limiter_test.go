package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 10, 0, time.UTC)
	limiter, err := NewMemoryLimiter(2, func() time.Time { return now })
	if err != nil {
		t.Fatalf("failed to build limiter: %v", err)
	}
	ctx := context.Background()

	for attempt := 1; attempt <= 2; attempt++ {
		decision, _ := limiter.Allow(ctx, "user-a")
		if !decision.Allowed || decision.Remaining != 2-attempt {
			t.Fatalf("attempt %d: unexpected decision %+v", attempt, decision)
		}
	}
	denied, _ := limiter.Allow(ctx, "user-a")
	if denied.Allowed || denied.RetryAfter != 50*time.Second {
		t.Fatalf("expected denial with 50s retry, got %+v", denied)
	}
	if other, _ := limiter.Allow(ctx, "user-b"); !other.Allowed {
		t.Fatalf("buckets must be independent")
	}

	now = now.Add(time.Minute)
	if decision, _ := limiter.Allow(ctx, "user-a"); !decision.Allowed {
		t.Fatalf("expected a new window to reset the counter")
	}
	if len(limiter.buckets) != 1 {
		t.Fatalf("expected stale windows to be pruned, got %d buckets", len(limiter.buckets))
	}
}

func TestNewLimitersRejectInvalidLimit(t *testing.T) {
	if _, err := NewMemoryLimiter(0, nil); err == nil {
		t.Fatalf("expected zero limit to fail")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	if _, err := NewRedisLimiter(client, -1, nil); err == nil {
		t.Fatalf("expected negative limit to fail")
	}
}

func TestWindowKeyIsStablePerMinute(t *testing.T) {
	first := WindowKey("POST /rooms:user-a", time.Date(2024, 1, 1, 12, 0, 1, 0, time.UTC))
	second := WindowKey("POST /rooms:user-a", time.Date(2024, 1, 1, 12, 0, 59, 0, time.UTC))
	third := WindowKey("POST /rooms:user-a", time.Date(2024, 1, 1, 12, 1, 0, 0, time.UTC))
	if first != second || first == third {
		t.Fatalf("unexpected keys: %s %s %s", first, second, third)
	}
	if first != "ratelimit:POST /rooms:user-a:1704110400" {
		t.Fatalf("unexpected key format: %s", first)
	}
}

func TestRedisLimiterSurfacesConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	limiter, err := NewRedisLimiter(client, 10, nil)
	if err != nil {
		t.Fatalf("failed to build limiter: %v", err)
	}
	if _, err := limiter.Allow(context.Background(), "bucket"); err == nil {
		t.Fatalf("expected unreachable redis to fail")
	}
}

// fakeRedis counts INCR calls issued through transaction pipelines.
type fakeRedis struct {
	redis.Cmdable
	counts map[string]int64
	ttls   map[string]time.Duration
	execs  int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) TxPipeline() redis.Pipeliner {
	return &fakePipeline{store: f}
}

type fakePipeline struct {
	redis.Pipeliner
	store   *fakeRedis
	pending []func()
}

func (p *fakePipeline) Incr(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "incr", key)
	p.pending = append(p.pending, func() {
		p.store.counts[key]++
		cmd.SetVal(p.store.counts[key])
	})
	return cmd
}

func (p *fakePipeline) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx, "expire", key, expiration)
	p.pending = append(p.pending, func() {
		p.store.ttls[key] = expiration
		cmd.SetVal(true)
	})
	return cmd
}

func (p *fakePipeline) Exec(context.Context) ([]redis.Cmder, error) {
	p.store.execs++
	for _, apply := range p.pending {
		apply()
	}
	p.pending = nil
	return nil, nil
}

func TestRedisLimiterCountsPerWindow(t *testing.T) {
	store := newFakeRedis()
	now := time.Date(2024, 1, 1, 12, 0, 5, 0, time.UTC)
	limiter, err := NewRedisLimiter(store, 2, func() time.Time { return now })
	if err != nil {
		t.Fatalf("failed to build limiter: %v", err)
	}
	ctx := context.Background()

	for attempt, wantRemaining := range []int{1, 0} {
		decision, err := limiter.Allow(ctx, "user-a")
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", attempt, err)
		}
		if !decision.Allowed || decision.Remaining != wantRemaining {
			t.Fatalf("attempt %d: unexpected decision %+v", attempt, decision)
		}
	}
	decision, err := limiter.Allow(ctx, "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed || decision.RetryAfter <= 0 || decision.RetryAfter > Window {
		t.Fatalf("expected third request to be limited, got %+v", decision)
	}

	key := WindowKey("user-a", now)
	if store.counts[key] != 3 || store.ttls[key] <= Window {
		t.Fatalf("unexpected counter state count=%d ttl=%s", store.counts[key], store.ttls[key])
	}
	if store.execs != 3 {
		t.Fatalf("expected one pipeline round trip per request, got %d", store.execs)
	}

	if other, _ := limiter.Allow(ctx, "user-b"); !other.Allowed {
		t.Fatalf("buckets must be counted independently, got %+v", other)
	}

	now = now.Add(Window)
	decision, err = limiter.Allow(ctx, "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed || decision.Remaining != 1 {
		t.Fatalf("expected a fresh window after rollover, got %+v", decision)
	}
	if rolled := WindowKey("user-a", now); rolled == key || store.counts[rolled] != 1 {
		t.Fatalf("expected a new window key, got %s count=%d", rolled, store.counts[rolled])
	}
}
