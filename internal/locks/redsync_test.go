package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/redis"
)

func setupManager(t *testing.T) Manager {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	redisClient, err := redis.NewClient(&redis.Config{Address: s.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { redisClient.Close() })

	manager, err := NewManager(redisClient)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return manager
}

func TestManager_AcquireLock(t *testing.T) {
	manager := setupManager(t)
	ctx := context.Background()

	t.Run("acquire and release", func(t *testing.T) {
		lock, err := manager.AcquireLock(ctx, "route:req_123", 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, lock)

		assert.Equal(t, "route:req_123", lock.Key())
		assert.True(t, lock.IsHeld())

		err = lock.Release(ctx)
		assert.NoError(t, err)
		assert.False(t, lock.IsHeld())
	})

	t.Run("contention blocks second holder", func(t *testing.T) {
		lock1, err := manager.AcquireLock(ctx, "route:req_456", 30*time.Second)
		require.NoError(t, err)
		defer lock1.Release(ctx)

		shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		lock2, err := manager.AcquireLock(shortCtx, "route:req_456", 30*time.Second)
		assert.Error(t, err)
		assert.Nil(t, lock2)
	})

	t.Run("released lock can be reacquired", func(t *testing.T) {
		lock1, err := manager.AcquireLock(ctx, "route:req_789", 30*time.Second)
		require.NoError(t, err)
		require.NoError(t, lock1.Release(ctx))

		lock2, err := manager.AcquireLock(ctx, "route:req_789", 30*time.Second)
		require.NoError(t, err)
		assert.NoError(t, lock2.Release(ctx))
	})

	t.Run("extend updates the renewal expiry", func(t *testing.T) {
		lock, err := manager.AcquireLock(ctx, "route:req_abc", 5*time.Second)
		require.NoError(t, err)
		defer lock.Release(ctx)

		err = lock.Extend(ctx, 10*time.Second)
		assert.NoError(t, err)
		assert.True(t, lock.IsHeld())
	})
}

func TestManager_AcquireSweepLock(t *testing.T) {
	manager := setupManager(t)
	ctx := context.Background()

	lock, err := manager.AcquireSweepLock(ctx)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "escalation:sweep", lock.Key())

	// A second instance sweeping at the same time must be shut out.
	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = manager.AcquireSweepLock(shortCtx)
	assert.Error(t, err)

	assert.NoError(t, lock.Release(ctx))
}

func TestManager_CloseReleasesHeldLocks(t *testing.T) {
	manager := setupManager(t)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "route:req_close", 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, manager.Close())
	assert.False(t, lock.IsHeld())
}

func TestNewManager_NilRedisClient(t *testing.T) {
	manager, err := NewManager(nil)
	assert.Error(t, err)
	assert.Nil(t, manager)
	assert.Contains(t, err.Error(), "redis client is required")
}
