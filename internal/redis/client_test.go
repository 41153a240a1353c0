package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient(&Config{
		Address:  mr.Addr(),
		PoolSize: 10,
	})
	require.NoError(t, err)

	return client, mr
}

func TestNewClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	t.Run("successful connection", func(t *testing.T) {
		client, err := NewClient(&Config{
			Address:  mr.Addr(),
			PoolSize: 5,
		})
		assert.NoError(t, err)
		assert.NotNil(t, client)

		err = client.Close()
		assert.NoError(t, err)
	})

	t.Run("applies pool size default", func(t *testing.T) {
		config := &Config{Address: mr.Addr()}

		client, err := NewClient(config)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
	})

	t.Run("nil config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "redis config is required")
	})

	t.Run("connection failure", func(t *testing.T) {
		client, err := NewClient(&Config{Address: "invalid:99999"})
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})
}

func TestClient_Health(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	t.Run("healthy connection", func(t *testing.T) {
		err := client.Health()
		assert.NoError(t, err)
	})

	t.Run("unhealthy connection", func(t *testing.T) {
		mr.Close()

		err := client.Health()
		assert.Error(t, err)
	})
}

func TestClient_CheckRateLimit(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	key := "rate_limit:ip:10.0.0.1"
	limit := 5
	window := 10 * time.Second

	t.Run("first request allowed", func(t *testing.T) {
		allowed, count, err := client.CheckRateLimit(ctx, key, limit, window)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 1, count)
	})

	t.Run("subsequent requests within limit", func(t *testing.T) {
		for i := 2; i <= limit; i++ {
			allowed, count, err := client.CheckRateLimit(ctx, key, limit, window)
			assert.NoError(t, err)
			assert.True(t, allowed)
			assert.Equal(t, i, count)
		}
	})

	t.Run("request exceeds limit", func(t *testing.T) {
		allowed, count, err := client.CheckRateLimit(ctx, key, limit, window)
		assert.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, limit+1, count)
	})

	t.Run("rate limit resets after window", func(t *testing.T) {
		mr.FastForward(window + time.Second)
		mr.Del(key)

		allowed, count, err := client.CheckRateLimit(ctx, key, limit, window)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 1, count)
	})

	t.Run("concurrent requests honor the limit", func(t *testing.T) {
		concurrentKey := "rate_limit:ip:10.0.0.2"
		results := make(chan bool, 20)
		for i := 0; i < 20; i++ {
			go func() {
				allowed, _, err := client.CheckRateLimit(ctx, concurrentKey, 10, time.Minute)
				assert.NoError(t, err)
				results <- allowed
			}()
		}

		allowedCount := 0
		for i := 0; i < 20; i++ {
			if <-results {
				allowedCount++
			}
		}
		assert.Equal(t, 10, allowedCount)
	})
}

func TestClient_Publish(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	channel := "routing.decision"

	t.Run("publish and receive JSON message", func(t *testing.T) {
		pubsub := client.GoRedis().Subscribe(ctx, channel)
		defer pubsub.Close()

		_, err := pubsub.Receive(ctx)
		require.NoError(t, err)

		payload := map[string]interface{}{
			"request_id": "req_123",
			"status":     "assigned",
		}
		err = client.Publish(ctx, channel, payload)
		require.NoError(t, err)

		msg, err := pubsub.ReceiveMessage(ctx)
		require.NoError(t, err)
		assert.Equal(t, channel, msg.Channel)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
		assert.Equal(t, "req_123", decoded["request_id"])
		assert.Equal(t, "assigned", decoded["status"])
	})

	t.Run("publish string as-is", func(t *testing.T) {
		pubsub := client.GoRedis().Subscribe(ctx, channel)
		defer pubsub.Close()

		_, err := pubsub.Receive(ctx)
		require.NoError(t, err)

		err = client.Publish(ctx, channel, "plain message")
		require.NoError(t, err)

		msg, err := pubsub.ReceiveMessage(ctx)
		require.NoError(t, err)
		assert.Equal(t, "plain message", msg.Payload)
	})

	t.Run("unmarshalable payload fails", func(t *testing.T) {
		err := client.Publish(ctx, channel, make(chan int))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to marshal message")
	})
}

func TestClient_ClosedConnection(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	mr.Close()

	ctx := context.Background()

	_, _, err := client.CheckRateLimit(ctx, "rate_limit:test", 10, time.Minute)
	assert.Error(t, err)

	err = client.Publish(ctx, "routing.decision", "message")
	assert.Error(t, err)
}
