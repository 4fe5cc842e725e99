// Package quota enforces the per-tenant daily limit of new chat sessions.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrExceeded is returned by Reserve when the tenant used its daily quota.
var ErrExceeded = errors.New("daily chat quota exceeded")

// Checker reserves one new session for a tenant on the current day.
// Release gives back a slot whose session was never created.
type Checker interface {
	Reserve(ctx context.Context, tenantID string) error
	Release(ctx context.Context, tenantID string) error
}

// Unlimited never rejects.
type Unlimited struct{}

func (Unlimited) Reserve(context.Context, string) error { return nil }

func (Unlimited) Release(context.Context, string) error { return nil }

// releaseScript decrements the counter without ever taking it below zero.
var releaseScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

func dayKey(tenantID string, now time.Time) string {
	return fmt.Sprintf("chatflow:quota:%s:%s", tenantID, now.UTC().Format("20060102"))
}

// RedisChecker counts sessions in a per-day key shared by every instance.
type RedisChecker struct {
	client redis.UniversalClient
	limit  int64
	now    func() time.Time
}

func NewRedisChecker(client redis.UniversalClient, dailyLimit int64) *RedisChecker {
	return &RedisChecker{client: client, limit: dailyLimit, now: time.Now}
}

func (c *RedisChecker) Reserve(ctx context.Context, tenantID string) error {
	if c.limit <= 0 {
		return nil
	}

	key := dayKey(tenantID, c.now())

	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment quota counter: %w", err)
	}

	if count == 1 {
		if err := c.client.Expire(ctx, key, 48*time.Hour).Err(); err != nil {
			return fmt.Errorf("failed to expire quota counter: %w", err)
		}
	}

	if count > c.limit {
		// Give the slot back so the counter reflects created sessions.
		c.client.Decr(ctx, key)

		return fmt.Errorf("%w: tenant %s limit %d", ErrExceeded, tenantID, c.limit)
	}

	return nil
}

func (c *RedisChecker) Release(ctx context.Context, tenantID string) error {
	if c.limit <= 0 {
		return nil
	}

	if err := releaseScript.Run(ctx, c.client, []string{dayKey(tenantID, c.now())}).Err(); err != nil {
		return fmt.Errorf("failed to release quota slot: %w", err)
	}

	return nil
}

// MemoryChecker is the single-instance counterpart of RedisChecker. Counts
// only cover the current day; the first call on a new day drops them.
type MemoryChecker struct {
	limit int64
	now   func() time.Time

	mu     sync.Mutex
	day    string
	counts map[string]int64
}

func NewMemoryChecker(dailyLimit int64) *MemoryChecker {
	return &MemoryChecker{limit: dailyLimit, now: time.Now, counts: make(map[string]int64)}
}

func (c *MemoryChecker) Reserve(_ context.Context, tenantID string) error {
	if c.limit <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollover()

	if c.counts[tenantID] >= c.limit {
		return fmt.Errorf("%w: tenant %s limit %d", ErrExceeded, tenantID, c.limit)
	}

	c.counts[tenantID]++

	return nil
}

func (c *MemoryChecker) Release(_ context.Context, tenantID string) error {
	if c.limit <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollover()

	if c.counts[tenantID] > 0 {
		c.counts[tenantID]--
	}

	return nil
}

// rollover must be called with mu held.
func (c *MemoryChecker) rollover() {
	day := c.now().UTC().Format("20060102")
	if day != c.day {
		c.day = day
		clear(c.counts)
	}
}
