// Package cache holds the Redis-backed coordination primitives shared by
// engine instances.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SweepLock serializes sweep runs across instances with a Redis SET NX
// lease. Each run gets its own token so only the holder can release; an
// expired lease releases itself, covering crashed holders.
type SweepLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewSweepLock creates a lock on the given key with the lease TTL.
func NewSweepLock(client *redis.Client, key string, ttl time.Duration) *SweepLock {
	return &SweepLock{client: client, key: key, ttl: ttl}
}

// TryAcquire attempts to take the lease. Returns false when another
// instance holds it.
func (l *SweepLock) TryAcquire(ctx context.Context, token string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	return ok, nil
}

// Release drops the lease if this token still holds it.
func (l *SweepLock) Release(ctx context.Context, token string) error {
	// Compare-and-delete so a lease that expired and was re-acquired by
	// another instance is left alone.
	const script = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0`
	if err := l.client.Eval(ctx, script, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("release sweep lock: %w", err)
	}
	return nil
}
