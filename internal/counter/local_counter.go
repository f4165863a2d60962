package counter

import (
	"context"
	"fmt"

	"github.com/patrickmn/go-cache"
)

var _ Counter = (*LocalCounter)(nil)

// LocalCounter keeps the count in process memory.
// go-cache serialises IncrementInt64 under its own lock.
type LocalCounter struct {
	key   string
	cache *cache.Cache
}

func NewLocalCounter(key string) *LocalCounter {
	if key == "" {
		key = DefaultKey
	}
	return &LocalCounter{
		key:   key,
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func (c *LocalCounter) Up(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: INCR %s: %w", ErrStoreUnavailable, c.key, err)
	}

	// Add fails when the key already exists, which is fine.
	_ = c.cache.Add(c.key, int64(0), cache.NoExpiration)

	n, err := c.cache.IncrementInt64(c.key, 1)
	if err != nil {
		return 0, fmt.Errorf("%w: INCR %s: %w", ErrStoreProtocol, c.key, err)
	}
	return n, nil
}

func (c *LocalCounter) Get(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: GET %s: %w", ErrStoreUnavailable, c.key, err)
	}

	v, ok := c.cache.Get(c.key)
	if !ok {
		return 0, fmt.Errorf("%w: GET %s: no value", ErrStoreProtocol, c.key)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: GET %s: unexpected type %T", ErrStoreProtocol, c.key, v)
	}
	return n, nil
}

func (c *LocalCounter) Set(ctx context.Context, v int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: SET %s: %w", ErrStoreUnavailable, c.key, err)
	}

	c.cache.Set(c.key, v, cache.NoExpiration)
	return nil
}
