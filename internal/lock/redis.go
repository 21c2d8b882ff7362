package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

const (
	DefaultRedisTTL   = 30 * time.Second
	defaultRedisRetry = 25 * time.Millisecond
)

// Redis is a Locker shared by every process pointed at the same Redis, so
// several API instances serialize on the same accommodation.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
}

func NewRedis(rdb redislock.RedisClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &Redis{
		client: redislock.New(rdb),
		ttl:    ttl,
		retry:  defaultRedisRetry,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	lk, err := r.client.Obtain(ctx, key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.retry),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain redis lock %s: %w", key, err)
	}
	return func() {
		// the lock may already have expired; Release then reports ErrLockNotHeld
		_ = lk.Release(context.Background())
	}, nil
}
