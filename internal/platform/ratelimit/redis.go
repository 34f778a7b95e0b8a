package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// Redis shares the window across API instances. The first hit in a window sets the key's
// expiry, so the window restarts once the key expires.
type Redis struct {
	client redis.Cmdable
	scope  string
	limit  int
	window time.Duration
}

// NewRedis returns nil when limit or window is not positive, which disables throttling.
func NewRedis(client redis.Cmdable, scope string, limit int, window time.Duration) *Redis {
	if client == nil || limit <= 0 || window <= 0 {
		return nil
	}
	return &Redis{client: client, scope: scope, limit: limit, window: window}
}

func (l *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil {
		return Decision{Allowed: true}, nil
	}
	redisKey := redisKeyPrefix + l.scope + ":" + normaliseKey(key)

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, l.window)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis: %w", err)
	}

	count := int(incr.Val())
	if count > l.limit {
		retry := ttl.Val()
		if retry <= 0 {
			retry = l.window
		}
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}
	return Decision{Allowed: true, Remaining: l.limit - count}, nil
}
