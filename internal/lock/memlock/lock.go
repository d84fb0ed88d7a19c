// Package memlock implements the dispatch lock in process memory. It only
// provides exactly-once dispatch within a single process, which is all a
// dev deployment runs.
package memlock

import (
	"context"
	"sync"
	"time"
)

// Lock is an in-memory core.LockStore.
type Lock struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

// New constructs an empty Lock.
func New() *Lock {
	return &Lock{held: make(map[string]time.Time), nowFn: time.Now}
}

// AcquireOnce claims key until its TTL elapses. Expired keys may be
// claimed again, matching the Redis behavior.
func (l *Lock) AcquireOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}
