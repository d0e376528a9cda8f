package listener

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lineage-io/catalog/internal/catalog"
)

// RedisListener publishes notifications on a Redis pub/sub channel.
type RedisListener struct {
	client  *redis.Client
	channel string
}

var _ catalog.Listener = (*RedisListener)(nil)

// NewRedisListener connects to redisURL and publishes on channel.
func NewRedisListener(redisURL, channel string) (*RedisListener, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &RedisListener{client: redis.NewClient(opts), channel: channel}, nil
}

// Name implements catalog.Listener.
func (r *RedisListener) Name() string {
	return "redis"
}

// Ping checks the connection.
func (r *RedisListener) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// OnInputUpdate implements catalog.Listener.
func (r *RedisListener) OnInputUpdate(ctx context.Context, update catalog.InputUpdate) error {
	return r.publish(ctx, inputNotification(update))
}

// OnOutputUpdate implements catalog.Listener.
func (r *RedisListener) OnOutputUpdate(ctx context.Context, update catalog.OutputUpdate) error {
	return r.publish(ctx, outputNotification(update))
}

// OnTransition implements catalog.Listener.
func (r *RedisListener) OnTransition(ctx context.Context, transition catalog.RunTransition) error {
	return r.publish(ctx, transitionNotification(transition))
}

// Close closes the client.
func (r *RedisListener) Close() error {
	return r.client.Close()
}

func (r *RedisListener) publish(ctx context.Context, notification Notification) error {
	payload, err := encode(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.channel, err)
	}

	return nil
}
