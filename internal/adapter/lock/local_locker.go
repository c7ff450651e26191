package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// LocalLocker is a keyed mutex for a single process. Entries are dropped
// once no caller holds or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry)}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := l.ref(key)
	defer l.unref(key, e)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: lock %s: %v", domain.ErrClaimInProgress, key, ctx.Err())
	}
	defer func() { <-e.sem }()

	return fn(ctx)
}

func (l *LocalLocker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *LocalLocker) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// Len reports how many keys currently have holders or waiters.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
