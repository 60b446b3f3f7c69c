package lock

import "context"

// Locker runs a function while holding a named lock.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}
