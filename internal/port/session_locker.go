package port

import "context"

type SessionLocker interface {
	// WithLock runs fn while holding the exclusive lock for key
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
