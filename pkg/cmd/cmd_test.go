package cmd

import (
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/chatflow/pkg/credentials"
	"github.com/dukex/chatflow/pkg/persistence/file"
	"github.com/dukex/chatflow/pkg/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"file:///var/lib/chatflow":          "file",
		"postgres://u:p@localhost/chatflow": "postgres",
		"postgresql://localhost/chatflow":   "postgresql",
		"./data":                            "file",
		"mysql://localhost/chatflow":        "file",
	}

	for url, want := range tests {
		assert.Equal(t, want, parsePersistenceProvider(url), url)
	}
}

func TestNewPersistence_File(t *testing.T) {
	t.Parallel()

	p, err := NewPersistence(t.Context(), slog.Default(), "file://"+t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)
	assert.NoError(t, p.HealthCheck(t.Context()))
}

func TestNewEventBus(t *testing.T) {
	t.Parallel()

	bus, err := NewEventBus("gochannel", "", slog.Default())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("rabbitmq", "", slog.Default())
	require.Error(t, err)
}

func TestRedisBackedComponents(t *testing.T) {
	t.Parallel()

	client, err := NewRedisClient("")
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.IsType(t, quota.Unlimited{}, NewQuota(nil, 0))
	assert.IsType(t, &quota.MemoryChecker{}, NewQuota(nil, 10))

	server := miniredis.RunT(t)

	client, err = NewRedisClient("redis://" + server.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.IsType(t, &quota.RedisChecker{}, NewQuota(client, 10))

	loader := file.NewPersistence(t.TempDir()).ChannelConfigRepository()
	assert.IsType(t, &credentials.RedisCache{}, NewCredentialsCache(loader, client, time.Minute, slog.Default()))
	assert.IsType(t, &credentials.MemoryCache{}, NewCredentialsCache(loader, nil, time.Minute, slog.Default()))

	_, err = NewRedisClient("://bad")
	require.Error(t, err)
}
