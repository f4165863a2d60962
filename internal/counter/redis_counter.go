package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var _ Counter = (*RedisCounter)(nil)

type RedisCounter struct {
	key    string
	client redis.UniversalClient
}

// NewRedisCounter shares client across all callers; the client owns the connection pool.
func NewRedisCounter(client redis.UniversalClient, key string) *RedisCounter {
	if key == "" {
		key = DefaultKey
	}
	return &RedisCounter{key: key, client: client}
}

func (c *RedisCounter) Up(ctx context.Context) (int64, error) {
	n, err := c.client.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, classifyRedis("INCR "+c.key, err)
	}
	return n, nil
}

func (c *RedisCounter) Get(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, c.key).Int64()
	if err != nil {
		return 0, classifyRedis("GET "+c.key, err)
	}
	return n, nil
}

func (c *RedisCounter) Set(ctx context.Context, v int64) error {
	if err := c.client.Set(ctx, c.key, v, 0).Err(); err != nil {
		return classifyRedis("SET "+c.key, err)
	}
	return nil
}

// classifyRedis maps go-redis errors onto the store sentinels.
// Anything that is not a reply from the server is treated as unavailability.
func classifyRedis(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s: no value", ErrStoreProtocol, op)
	}

	var rerr redis.Error
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %s: %w", ErrStoreProtocol, op, err)
	}

	var nerr *strconv.NumError
	if errors.As(err, &nerr) {
		return fmt.Errorf("%w: %s: %w", ErrStoreProtocol, op, err)
	}

	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
