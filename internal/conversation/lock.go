package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL  = 90 * time.Second
	defaultLockWait = 10 * time.Second
	lockRetryDelay  = 50 * time.Millisecond
)

// Locker serializes turns for one conversation.
type Locker interface {
	// Acquire blocks until the lock is held or the wait expires. The returned
	// release func is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-instance Redis lock keyed per conversation.
type RedisLocker struct {
	redis *redis.Client
	ttl   time.Duration
	wait  time.Duration
}

// NewRedisLocker builds a lock with the given hold TTL and acquire wait.
func NewRedisLocker(redisClient *redis.Client, ttl, wait time.Duration) *RedisLocker {
	if redisClient == nil {
		panic("conversation: redis client required for locker")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &RedisLocker{redis: redisClient, ttl: ttl, wait: wait}
}

// Acquire returns ErrConversationBusy when the wait expires.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := lockKey(key)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.redis.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("conversation: acquire lock: %w", err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// The caller's context may already be done; release on a fresh one.
					releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = releaseScript.Run(releaseCtx, l.redis, []string{redisKey}, token).Err()
				})
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrConversationBusy
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrConversationBusy
			}
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

func lockKey(key string) string {
	return "lock:conversation:" + key
}
