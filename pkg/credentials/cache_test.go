package credentials

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	calls  atomic.Int32
	config *models.ChannelConfig
}

func (l *countingLoader) Get(_ context.Context, tenantID string, channel models.ChannelType) (*models.ChannelConfig, error) {
	l.calls.Add(1)

	if l.config == nil || l.config.TenantID != tenantID || l.config.Channel != channel {
		return nil, persistence.ErrChannelConfigNotFound
	}

	config := *l.config

	return &config, nil
}

func telegramConfig() *models.ChannelConfig {
	return &models.ChannelConfig{
		TenantID: "tenant-1",
		Channel:  models.ChannelTelegram,
		FlowID:   "flow-1",
		BotToken: "123:abc",
	}
}

func TestMemoryCache_TTLAndInvalidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	loader := &countingLoader{config: telegramConfig()}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	cache := NewMemoryCache(loader, time.Minute)
	cache.now = func() time.Time { return now }

	config, err := cache.Get(ctx, "tenant-1", models.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, "123:abc", config.BotToken)

	_, err = cache.Get(ctx, "tenant-1", models.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = cache.Get(ctx, "tenant-1", models.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())

	loader.config.BotToken = "456:def"
	require.NoError(t, cache.Invalidate(ctx, "tenant-1", models.ChannelTelegram))

	config, err = cache.Get(ctx, "tenant-1", models.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, "456:def", config.BotToken)
}

func TestMemoryCache_NotFoundIsNotCached(t *testing.T) {
	t.Parallel()

	loader := &countingLoader{}
	cache := NewMemoryCache(loader, 0)

	_, err := cache.Get(context.Background(), "tenant-1", models.ChannelWhatsApp)
	require.ErrorIs(t, err, persistence.ErrChannelConfigNotFound)

	_, err = cache.Get(context.Background(), "tenant-1", models.ChannelWhatsApp)
	require.ErrorIs(t, err, persistence.ErrChannelConfigNotFound)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestRedisCache(t *testing.T) {
	t.Parallel()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	loader := &countingLoader{config: telegramConfig()}
	cache := NewRedisCache(loader, client, 30*time.Second, slog.New(slog.DiscardHandler))

	config, err := cache.Get(ctx, "tenant-1", models.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, "flow-1", config.FlowID)
	assert.Equal(t, 30*time.Second, server.TTL("chatflow:channel_config:tenant-1:telegram"))

	_, err = cache.Get(ctx, "tenant-1", models.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.calls.Load())

	server.FastForward(31 * time.Second)

	_, err = cache.Get(ctx, "tenant-1", models.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())

	require.NoError(t, cache.Invalidate(ctx, "tenant-1", models.ChannelTelegram))
	assert.False(t, server.Exists("chatflow:channel_config:tenant-1:telegram"))
}

func TestRedisCache_ServesLoadedConfigWhenRedisIsDown(t *testing.T) {
	t.Parallel()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	server.Close()

	loader := &countingLoader{config: telegramConfig()}
	cache := NewRedisCache(loader, client, 30*time.Second, slog.New(slog.DiscardHandler))

	config, err := cache.Get(context.Background(), "tenant-1", models.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, "flow-1", config.FlowID)
	assert.Equal(t, int32(1), loader.calls.Load())

	_, err = cache.Get(context.Background(), "tenant-1", models.ChannelWhatsApp)
	require.ErrorIs(t, err, persistence.ErrChannelConfigNotFound, "loader errors still surface")
}
