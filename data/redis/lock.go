package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ncobase/nsearch/data/search"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLockTTL bounds how long a crashed writer keeps a key
	DefaultLockTTL = 10 * time.Minute
	// DefaultRetryInterval is the wait between acquire attempts
	DefaultRetryInterval = 200 * time.Millisecond
)

// only the owner token may delete the key
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Commander is the subset of the redis client used by Locker
type Commander interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Locker is a search.Locker shared by every process using the same server
type Locker struct {
	client Commander
	ttl    time.Duration
	retry  time.Duration
}

var _ search.Locker = (*Locker)(nil)

// NewLocker creates a locker; a zero ttl uses DefaultLockTTL
func NewLocker(client Commander, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Locker{client: client, ttl: ttl, retry: DefaultRetryInterval}
}

// WithRetryInterval sets the wait between acquire attempts
func (l *Locker) WithRetryInterval(d time.Duration) *Locker {
	if d > 0 {
		l.retry = d
	}
	return l
}

// Lock polls until key is acquired or ctx is done
func (l *Locker) Lock(ctx context.Context, key string) (search.UnlockFunc, error) {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		unlock, err := l.TryLock(ctx, key)
		if err == nil {
			return unlock, nil
		}
		if err != search.ErrLockHeld {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryLock makes a single acquire attempt
func (l *Locker) TryLock(ctx context.Context, key string) (search.UnlockFunc, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to acquire %s: %w", key, err)
	}
	if !ok {
		return nil, search.ErrLockHeld
	}
	return func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("redis: failed to release %s: %w", key, err)
		}
		return nil
	}, nil
}
