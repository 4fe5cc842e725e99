// Package credentials caches per-tenant channel configuration so inbound
// webhooks and outbound sends do not hit the database on every message.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a loaded configuration is served from cache.
const DefaultTTL = 60 * time.Second

// Loader reads the authoritative configuration.
type Loader interface {
	Get(ctx context.Context, tenantID string, channel models.ChannelType) (*models.ChannelConfig, error)
}

// Cache serves channel configuration with a short TTL. Writers call
// Invalidate after saving a new configuration.
type Cache interface {
	Get(ctx context.Context, tenantID string, channel models.ChannelType) (*models.ChannelConfig, error)
	Invalidate(ctx context.Context, tenantID string, channel models.ChannelType) error
}

func cacheKey(tenantID string, channel models.ChannelType) string {
	return "chatflow:channel_config:" + tenantID + ":" + string(channel)
}

type memoryEntry struct {
	config  models.ChannelConfig
	expires time.Time
}

// MemoryCache keeps configurations in process.
type MemoryCache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryCache(loader Loader, ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &MemoryCache{loader: loader, ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(ctx context.Context, tenantID string, channel models.ChannelType) (*models.ChannelConfig, error) {
	key := cacheKey(tenantID, channel)

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()

	if ok && c.now().Before(entry.expires) {
		config := entry.config

		return &config, nil
	}

	config, err := c.loader.Get(ctx, tenantID, channel)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = memoryEntry{config: *config, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return config, nil
}

func (c *MemoryCache) Invalidate(_ context.Context, tenantID string, channel models.ChannelType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, cacheKey(tenantID, channel))

	return nil
}

// RedisCache shares cached configurations between instances. Redis is only
// an accelerator: when it cannot be read or written the loaded configuration
// is still served.
type RedisCache struct {
	loader Loader
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(loader Loader, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &RedisCache{loader: loader, client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, tenantID string, channel models.ChannelType) (*models.ChannelConfig, error) {
	key := cacheKey(tenantID, channel)

	data, err := c.client.Get(ctx, key).Bytes()

	switch {
	case err == nil:
		var config models.ChannelConfig
		if err := json.Unmarshal(data, &config); err == nil {
			return &config, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "failed to read cached channel config",
			"tenant_id", tenantID, "channel", channel, "error", err)
	}

	config, err := c.loader.Get(ctx, tenantID, channel)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode channel config: %w", err)
	}

	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "failed to cache channel config",
			"tenant_id", tenantID, "channel", channel, "error", err)
	}

	return config, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, tenantID string, channel models.ChannelType) error {
	if err := c.client.Del(ctx, cacheKey(tenantID, channel)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate channel config: %w", err)
	}

	return nil
}
