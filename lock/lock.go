// Package lock serialises batch passes per account so two runners never
// write the same account's derived rows at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked means another runner holds the account.
var ErrLocked = errors.New("account locked by another runner")

// Locker hands out per-account leases. The returned release func is safe
// to call more than once.
type Locker interface {
	Acquire(ctx context.Context, accountID int64, ttl time.Duration) (release func(), err error)
}

// releaseScript deletes the key only while it still holds our token, so a
// lease that expired and was taken over is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker leases accounts with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client, prefix: "journeys:lock:"}
}

func (l *RedisLocker) key(accountID int64) string {
	return fmt.Sprintf("%s%d", l.prefix, accountID)
}

func (l *RedisLocker) Acquire(ctx context.Context, accountID int64, ttl time.Duration) (func(), error) {
	key := l.key(accountID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("account %d: %w", accountID, ErrLocked)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be cancelled
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
		})
	}, nil
}

// LocalLocker is the single-process Locker used when Redis is not
// configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[int64]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[int64]time.Time{}, now: time.Now}
}

func (l *LocalLocker) Acquire(ctx context.Context, accountID int64, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, ok := l.held[accountID]; ok && now.Before(until) {
		return nil, fmt.Errorf("account %d: %w", accountID, ErrLocked)
	}
	until := now.Add(ttl)
	l.held[accountID] = until
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[accountID].Equal(until) {
				delete(l.held, accountID)
			}
		})
	}, nil
}
