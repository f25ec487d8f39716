// Package lock serialises ledger operations per account, either inside one
// process or across instances through Redis.
package lock

import (
	"context"
	"sync"
)

type keyLock struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Keys with no holders or waiters are
// dropped so the map does not grow with the number of accounts ever seen.
type Local struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewLocal returns an empty keyed mutex.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*keyLock)}
}

// WithLock implements port.AccountLocker. Waiting honours ctx.
func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	kl := l.ref(key)
	defer l.unref(key, kl)

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-kl.sem }()

	return fn(ctx)
}

func (l *Local) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *Local) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
