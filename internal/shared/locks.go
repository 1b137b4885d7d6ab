package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = fmt.Errorf("%w: lock held by another worker", ErrConflict)

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ProjectInvoiceLockKey builds redis keys for per-project invoice generation.
func ProjectInvoiceLockKey(projectID int64) string {
	return fmt.Sprintf("billing:project:%d:lock", projectID)
}

// Locker hands out short-lived exclusive locks stored in Redis.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocker builds a Locker. A nil client yields a no-op locker.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, ttl: ttl}
}

// Lock is a held lock; Release is safe to call more than once.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes the lock for key or returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lock, error) {
	if l == nil || l.client == nil {
		return &Lock{key: key}, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// Release drops the lock if it is still ours.
func (lk *Lock) Release(ctx context.Context) error {
	if lk == nil || lk.client == nil || lk.token == "" {
		return nil
	}
	err := releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.token).Err()
	lk.token = ""
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("shared: release lock %s: %w", lk.key, err)
	}
	return nil
}
