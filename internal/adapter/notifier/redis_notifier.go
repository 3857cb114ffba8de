package notifier

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisChannel = "order-notifications"
	historyKeyPrefix    = "notifications:"
	historyLimit        = 1000
)

// RedisNotifier publishes each message on a channel and appends it to a
// capped history list, both in one MULTI/EXEC.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (r *RedisNotifier) Send(ctx context.Context, message string) error {
	key := historyKeyPrefix + r.channel

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, r.channel, message)
		pipe.RPush(ctx, key, message)
		pipe.LTrim(ctx, key, -historyLimit, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// History returns up to n of the most recent messages, oldest first.
func (r *RedisNotifier) History(ctx context.Context, n int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return r.client.LRange(ctx, historyKeyPrefix+r.channel, -n, -1).Result()
}
