package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "codetoflows:quota:"
	keyTTL    = 48 * time.Hour
)

// incrementBelow returns {count, 1} after incrementing, or {count, 0} when the
// key already holds limit or more.
var incrementBelow = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', key) or '0')
	if current >= limit then
		return {current, 0}
	end

	local updated = redis.call('INCR', key)
	if updated == 1 then
		redis.call('EXPIRE', key, ttl)
	end
	return {updated, 1}
`)

// RedisCounter shares the daily count across server instances.
type RedisCounter struct {
	client redis.UniversalClient
}

func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{client: client}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func key(day string) string {
	return keyPrefix + day
}

func (c *RedisCounter) Count(ctx context.Context, day string) (int, error) {
	count, err := c.client.Get(ctx, key(day)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read daily count: %w", err)
	}
	return count, nil
}

func (c *RedisCounter) IncrementIfBelow(ctx context.Context, day string, limit int) (int, bool, error) {
	res, err := incrementBelow.Run(ctx, c.client, []string{key(day)}, limit, int(keyTTL.Seconds())).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment daily count: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected script result %v", res)
	}
	return int(res[0]), res[1] == 1, nil
}
