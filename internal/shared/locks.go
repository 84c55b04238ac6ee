package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PublishLockKey builds redis keys guarding sheet publication per association.
func PublishLockKey(associationID int64) string {
	return fmt.Sprintf("sheet:association:%d:publish:lock", associationID)
}

// Locker serialises critical sections across instances using redis SETNX.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocker constructs a Locker with the given lock TTL.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// ErrLockHeld indicates another operator holds the lock.
var ErrLockHeld = fmt.Errorf("lock already held")

// Acquire takes the lock or returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Release drops the lock. Safe to call on expiry.
func (l *Locker) Release(ctx context.Context, key string) {
	if l == nil || l.client == nil {
		return
	}
	_ = l.client.Del(ctx, key).Err()
}
