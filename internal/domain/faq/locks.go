package faq

import (
	"sync"

	"github.com/google/uuid"
)

// idLocks serializes writers of the same canonical question while letting
// distinct ids proceed in parallel. Entries are dropped once unused.
type idLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func newIDLocks() *idLocks {
	return &idLocks{locks: make(map[uuid.UUID]*idLock)}
}

// Lock blocks until id is held and returns the matching unlock func.
func (l *idLocks) Lock(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &idLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *idLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
