package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	registry := NewRegistry(time.Minute)
	registry.now = func() time.Time { return now }

	registry.Heartbeat("tenant-1", "a2", "Bruna")
	registry.Heartbeat("tenant-1", "a1", "Ana")
	registry.Heartbeat("tenant-2", "a3", "Caio")

	online := registry.Online("tenant-1")
	require.Len(t, online, 2)
	assert.Equal(t, "Ana", online[0].Name)
	assert.True(t, registry.IsOnline("a2"))

	registry.Offline("a2")
	assert.False(t, registry.IsOnline("a2"))

	now = now.Add(2 * time.Minute)
	assert.False(t, registry.IsOnline("a1"))
	assert.Empty(t, registry.Online("tenant-1"))
	assert.Empty(t, registry.Online("tenant-2"))
}
