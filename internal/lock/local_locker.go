package lock

import (
	"context"
	"sync"
)

type keyedMutex struct {
	ch   chan struct{}
	refs int
}

// LocalLocker serializes callers within one process. Entries are dropped
// once no caller holds or waits for a key.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedMutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyedMutex)}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	km := l.acquireRef(key)
	defer l.releaseRef(key, km)

	select {
	case km.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-km.ch }()

	return fn()
}

func (l *LocalLocker) acquireRef(key string) *keyedMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	km, ok := l.locks[key]
	if !ok {
		km = &keyedMutex{ch: make(chan struct{}, 1)}
		l.locks[key] = km
	}
	km.refs++
	return km
}

func (l *LocalLocker) releaseRef(key string, km *keyedMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()

	km.refs--
	if km.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var _ Locker = (*LocalLocker)(nil)
