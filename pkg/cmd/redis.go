package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/chatflow/pkg/credentials"
	"github.com/dukex/chatflow/pkg/quota"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses a redis:// URL. An empty URL returns nil and the
// callers fall back to in-process implementations.
func NewRedisClient(redisURL string) (redis.UniversalClient, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return redis.NewClient(opts), nil
}

// NewQuota returns the daily chat quota checker. A limit <= 0 disables it.
func NewQuota(client redis.UniversalClient, dailyLimit int64) quota.Checker {
	switch {
	case dailyLimit <= 0:
		return quota.Unlimited{}
	case client != nil:
		return quota.NewRedisChecker(client, dailyLimit)
	default:
		return quota.NewMemoryChecker(dailyLimit)
	}
}

// NewCredentialsCache caches channel configuration in redis when a client is
// configured, otherwise in process memory.
func NewCredentialsCache(
	loader credentials.Loader,
	client redis.UniversalClient,
	ttl time.Duration,
	logger *slog.Logger,
) credentials.Cache {
	if client != nil {
		return credentials.NewRedisCache(loader, client, ttl, logger)
	}

	return credentials.NewMemoryCache(loader, ttl)
}
