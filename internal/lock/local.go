// Package lock provides per-rule mutual exclusion for commit executions, in process or across
// processes through Redis.
package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var errEmptyKey = errors.New("lock: empty key")

// Local is an in-process non-blocking lock set keyed by string.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal constructs an empty Local lock set.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// TryLock acquires key if it is free. The returned release is idempotent.
func (l *Local) TryLock(_ context.Context, key string) (func(), bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, errEmptyKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}
	return release, true, nil
}
