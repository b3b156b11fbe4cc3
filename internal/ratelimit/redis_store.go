package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares counters between instances using INCR + PEXPIRE.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client. Keys are written under "rl:".
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "rl:"}
}

// Hit implements Store. The expiry is set on the first increment and defines
// the window boundary.
func (s *RedisStore) Hit(ctx context.Context, key string, size time.Duration, now time.Time) (int, time.Time, error) {
	key = s.prefix + key

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis incr %s: %w", key, err)
	}

	if count == 1 {
		if err := s.client.PExpire(ctx, key, size).Err(); err != nil {
			// Without a TTL the key would block the identifier forever.
			s.client.Del(ctx, key)
			return 0, time.Time{}, fmt.Errorf("redis pexpire %s: %w", key, err)
		}
		return 1, now.Add(size), nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis pttl %s: %w", key, err)
	}
	if ttl < 0 {
		// Key lost its TTL (or expired between calls); restore the window.
		_ = s.client.PExpire(ctx, key, size).Err()
		ttl = size
	}
	return int(count), now.Add(ttl), nil
}
