// Package redislock implements the shared dispatch lock on Redis SET NX.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a core.LockStore backed by a shared Redis instance, giving the
// scheduler exactly-once dispatch across replicas.
type Lock struct {
	client *redis.Client
}

// New wraps an existing client.
func New(client *redis.Client) *Lock {
	return &Lock{client: client}
}

// AcquireOnce atomically creates key with the given TTL. It reports true
// only for the caller that created it; the key is never released early, it
// simply expires.
func (l *Lock) AcquireOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}
