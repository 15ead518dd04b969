package keylock

import "sync"

// Locker hands out one mutex per key. Entries are reference counted and
// dropped once nobody holds or waits on them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (l *Locker) Lock(key string) func() {
	e := l.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.release(key, e)
	}
}

// TryLock acquires key only when nobody else holds it.
func (l *Locker) TryLock(key string) (func(), bool) {
	e := l.acquire(key)
	if !e.mu.TryLock() {
		l.release(key, e)
		return nil, false
	}
	return func() {
		e.mu.Unlock()
		l.release(key, e)
	}, true
}

// Len reports how many keys are currently tracked.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Locker) acquire(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
