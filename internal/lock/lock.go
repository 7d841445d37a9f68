// Package lock provides a Redis-backed mutex that keeps queue runs on
// different instances from overlapping.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKey is the Redis key guarding email queue runs.
const DefaultKey = "mailqueue:run-lock"

var ErrLocked = errors.New("lock: held by another owner")

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLock is a single-key lease with a TTL.
type RedisLock struct {
	rdb client
	key string
	ttl time.Duration
	log *zap.Logger
}

func NewRedisLock(rdb *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *RedisLock {
	return newRedisLock(rdb, key, ttl, logger)
}

func newRedisLock(rdb client, key string, ttl time.Duration, logger *zap.Logger) *RedisLock {
	return &RedisLock{
		rdb: rdb,
		key: key,
		ttl: ttl,
		log: logger,
	}
}

// Acquire takes the lock or returns ErrLocked. The returned release func
// is safe to call after the lease has expired.
func (l *RedisLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock SETNX: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			l.log.Warn("failed to release run lock", zap.String("key", l.key), zap.Error(err))
		}
	}, nil
}
