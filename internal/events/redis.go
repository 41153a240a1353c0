package events

import (
	"context"

	redisclient "task-router/internal/redis"
)

// RedisPublisher publishes events over Redis pub/sub. Payloads are JSON
// encoded by the underlying client.
type RedisPublisher struct {
	client *redisclient.Client
}

// NewRedisPublisher wraps an existing Redis client. The publisher does not
// own the client; Close is a no-op so the client can be shared with the
// distributed lock and rate limiter.
func NewRedisPublisher(client *redisclient.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	return p.client.Publish(ctx, topic, payload)
}

func (p *RedisPublisher) Close() error {
	return nil
}
