package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

const lockKeyPrefix = "lock:"

type Options struct {
	// Expiry must exceed the longest claim, or a second holder can enter.
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		Expiry:     30 * time.Second,
		Tries:      64,
		RetryDelay: 100 * time.Millisecond,
	}
}

// RedisLocker serialises work per key across processes with redsync.
type RedisLocker struct {
	rs   *redsync.Redsync
	opts Options
	log  zerolog.Logger
}

func NewRedisLocker(client *redis.Client, opts Options, log zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts,
		log:  log.With().Str("component", "redis_locker").Logger(),
	}
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	mutex := l.rs.NewMutex(
		lockKeyPrefix+key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("%w: lock %s: %v", domain.ErrClaimInProgress, key, err)
	}
	l.log.Debug().Str("lock_key", key).Msg("lock acquired")

	defer func() {
		ok, err := mutex.UnlockContext(context.WithoutCancel(ctx))
		if err != nil || !ok {
			l.log.Error().Err(err).Str("lock_key", key).Bool("unlock_ok", ok).Msg("failed to release lock")
			return
		}
		l.log.Debug().Str("lock_key", key).Msg("lock released")
	}()

	return fn(ctx)
}
