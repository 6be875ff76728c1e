//go:build integration

package redis_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/einvoiceng/firshook/webhook/signature/redis"
)

// setupRedisContainer starts a Redis testcontainer and returns its address
func setupRedisContainer(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()

	container, err := testcontainersredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start Redis container")

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err, "failed to get Redis connection string")
	addr = strings.TrimPrefix(addr, "redis://")

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	}

	return addr, cleanup
}

func TestReplayStore_Integration(t *testing.T) {
	ctx := context.Background()

	addr, cleanup := setupRedisContainer(t, ctx)
	defer cleanup()

	store, err := redis.NewReplayStore(ctx, addr, "", 0)
	require.NoError(t, err)
	defer store.Close()

	t.Run("unknown key is not seen", func(t *testing.T) {
		seen, err := store.Seen(ctx, "wh-1:sig-1")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("recorded key is seen", func(t *testing.T) {
		require.NoError(t, store.Record(ctx, "wh-2:sig-2", time.Minute))

		seen, err := store.Seen(ctx, "wh-2:sig-2")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("key expires with its TTL", func(t *testing.T) {
		require.NoError(t, store.Record(ctx, "wh-3:sig-3", time.Second))

		time.Sleep(1500 * time.Millisecond)

		seen, err := store.Seen(ctx, "wh-3:sig-3")
		require.NoError(t, err)
		assert.False(t, seen)
	})
}
