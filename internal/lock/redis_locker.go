package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
)

// RedisLocker holds locks across instances with redsync.
type RedisLocker struct {
	rs     *redsync.Redsync
	prefix string
	expiry time.Duration
}

func NewRedisLocker(client *redis.Client, prefix string, expiry time.Duration) *RedisLocker {
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: prefix,
		expiry: expiry,
	}
}

func (r *RedisLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	mutex := r.rs.NewMutex(r.prefix+key, redsync.WithExpiry(r.expiry))

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	defer func() {
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str("lock", key).Msg("failed to release lock")
		}
	}()

	return fn()
}

var _ Locker = (*RedisLocker)(nil)
