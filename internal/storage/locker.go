package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes work on a key across processes
type RedisLocker struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewRedisLocker creates a locker whose locks expire after ttl
func NewRedisLocker(redis *RedisCache, ttl time.Duration) *RedisLocker {
	return &RedisLocker{redis: redis, ttl: ttl}
}

// HoldingLockKey is the lock key of a (user, holding)
func HoldingLockKey(userID, holdingID int64) string {
	return fmt.Sprintf("lock:holding:%d:%d", userID, holdingID)
}

// Acquire takes the lock or fails with a lock-busy error. The returned
// function releases it.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, apperrors.NewCacheError("lock token", err)
	}

	ok, err := l.redis.Client().SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, apperrors.NewCacheError("acquire lock", err)
	}
	if !ok {
		return nil, apperrors.NewLockBusyError(key)
	}

	return func() {
		// release with a fresh context so a cancelled task still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.redis.Client(), []string{key}, token).Err() // nolint:errcheck // expiry covers failures
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
