package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Deletes the key only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a single-key mutual exclusion lock with a TTL. A holder that
// dies without unlocking is released when the TTL expires.
type Locker struct {
	client *Client
	key    string
	ttl    time.Duration
}

// NewLocker creates a lock on key.
func NewLocker(client *Client, key string, ttl time.Duration) *Locker {
	return &Locker{client: client, key: key, ttl: ttl}
}

// TryLock acquires the lock without waiting. acquired is false when another
// owner holds it.
func (l *Locker) TryLock(ctx context.Context) (token string, acquired bool, err error) {
	token = uuid.NewString()
	ok, err := l.client.Redis.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases the lock if token still owns it.
func (l *Locker) Unlock(ctx context.Context, token string) error {
	if err := unlockScript.Run(ctx, l.client.Redis, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}
