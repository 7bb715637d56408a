package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("booking window lock not acquired")
)

// Locker guards the critical section around conflicting booking writes for
// one facility/provider window.
type Locker interface {
	WithWindowLock(ctx context.Context, facilityID int64, providerID *int64, day string, fn func(ctx context.Context) error) error
}

func windowKey(facilityID int64, providerID *int64, day string) string {
	provider := int64(0)
	if providerID != nil {
		provider = *providerID
	}
	return fmt.Sprintf("lock:booking:%d:%d:%s", facilityID, provider, day)
}

type redisWindowLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisWindowLocker creates a locker that uses a per window Redis key
func NewRedisWindowLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisWindowLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisWindowLocker) WithWindowLock(ctx context.Context, facilityID int64, providerID *int64, day string, fn func(ctx context.Context) error) error {
	key := windowKey(facilityID, providerID, day)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire window lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisWindowLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release window lock: %w", err)
	}
	return nil
}

// localWindowLocker is the single-process fallback used when Redis is not
// configured.
type localWindowLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalWindowLocker returns an in-process Locker with the same
// contention semantics as the Redis one.
func NewLocalWindowLocker() Locker {
	return &localWindowLocker{held: map[string]struct{}{}}
}

func (l *localWindowLocker) WithWindowLock(ctx context.Context, facilityID int64, providerID *int64, day string, fn func(ctx context.Context) error) error {
	key := windowKey(facilityID, providerID, day)

	l.mu.Lock()
	if _, taken := l.held[key]; taken {
		l.mu.Unlock()
		return ErrLockNotAcquired
	}
	l.held[key] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()

	return fn(ctx)
}
