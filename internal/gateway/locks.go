package gateway

import (
	"strings"
	"sync"
)

// tableLocks hands out one mutex per table name. Names are compared without
// case, as SQLite does. Entries are reference counted and removed once nobody
// holds or waits for them.
type tableLocks struct {
	mu    sync.Mutex
	locks map[string]*tableLock
}

type tableLock struct {
	mu   sync.Mutex
	refs int
}

func newTableLocks() *tableLocks {
	return &tableLocks{locks: make(map[string]*tableLock)}
}

// Lock blocks until the table's mutex is held and returns its release func
func (l *tableLocks) Lock(table string) func() {
	key := strings.ToLower(table)

	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &tableLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *tableLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
