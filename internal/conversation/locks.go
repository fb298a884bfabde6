package conversation

import "sync"

// customerLocks serializes inbound processing per customer while leaving
// different customers fully concurrent. Entries are reference-counted and
// removed once no goroutine holds or waits on them, so the table tracks
// only active customers.
type customerLocks struct {
	mu    sync.Mutex
	locks map[string]*customerLock
}

type customerLock struct {
	mu   sync.Mutex
	refs int
}

func newCustomerLocks() *customerLocks {
	return &customerLocks{locks: make(map[string]*customerLock)}
}

func (l *customerLocks) acquire(id string) {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &customerLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

func (l *customerLocks) release(id string) {
	l.mu.Lock()
	entry := l.locks[id]
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
