package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/gigtrust/internal/domain/model"
)

const redisDialTimeout = 5 * time.Second

// RedisDispatcher publishes notifications as JSON on a pub/sub channel.
type RedisDispatcher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisDispatcher connects to addr and verifies the connection.
func NewRedisDispatcher(ctx context.Context, addr, channel string) (*RedisDispatcher, error) {
	if addr == "" || channel == "" {
		return nil, fmt.Errorf("%w: redis addr and channel are required", ErrConfig)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: redisDialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping %s: %w", ErrUnavailable, addr, err)
	}
	return &RedisDispatcher{rdb: rdb, channel: channel}, nil
}

// Send publishes n.
func (d *RedisDispatcher) Send(ctx context.Context, n model.Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := d.rdb.Publish(ctx, d.channel, raw).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrUnavailable, n.ID, err)
	}
	return nil
}

// Close releases the client.
func (d *RedisDispatcher) Close() error {
	if d == nil || d.rdb == nil {
		return nil
	}
	return d.rdb.Close()
}
