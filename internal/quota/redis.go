package quota

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// keyPrefix namespaces quota counters in a shared Redis instance.
const keyPrefix = "ranklab:quota:"

// RedisCounter is a Counter backed by Redis, for multi-process deployments.
// INCR carries the atomicity; the first increment of a window arms the TTL.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a Redis-backed counter store.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// IncrAndGet implements Counter.
func (c *RedisCounter) IncrAndGet(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	redisKey := keyPrefix + key

	count, err := c.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, time.Time{}, eris.Wrap(err, "quota: incr")
	}

	if count == 1 {
		if err := c.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			return 0, time.Time{}, eris.Wrap(err, "quota: arm window ttl")
		}
		return count, time.Now().Add(window), nil
	}

	ttl, err := c.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		return 0, time.Time{}, eris.Wrap(err, "quota: read window ttl")
	}
	if ttl < 0 {
		// Key survived without a TTL (crash between INCR and PEXPIRE on the
		// arming call). Re-arm rather than leak a permanent counter.
		if err := c.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			return 0, time.Time{}, eris.Wrap(err, "quota: re-arm window ttl")
		}
		ttl = window
	}

	return count, time.Now().Add(ttl), nil
}

// Peek implements Counter.
func (c *RedisCounter) Peek(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	redisKey := keyPrefix + key

	count, err := c.client.Get(ctx, redisKey).Int64()
	if err == redis.Nil {
		return 0, time.Now().Add(window), nil
	}
	if err != nil {
		return 0, time.Time{}, eris.Wrap(err, "quota: get")
	}

	ttl, err := c.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		return 0, time.Time{}, eris.Wrap(err, "quota: read window ttl")
	}
	if ttl < 0 {
		ttl = window
	}

	return count, time.Now().Add(ttl), nil
}
