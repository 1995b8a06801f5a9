package biometric

import "sync"

// identityLocker serializes writers per identity. Entries are dropped once
// no goroutine holds or waits for them.
type identityLocker struct {
	mu    sync.Mutex
	locks map[int64]*identityLock
}

type identityLock struct {
	mu   sync.Mutex
	refs int
}

func newIdentityLocker() *identityLocker {
	return &identityLocker{locks: make(map[int64]*identityLock)}
}

// Lock blocks until identityID is free and returns the matching unlock.
func (l *identityLocker) Lock(identityID int64) func() {
	l.mu.Lock()
	lk, ok := l.locks[identityID]
	if !ok {
		lk = &identityLock{}
		l.locks[identityID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, identityID)
		}
		l.mu.Unlock()
	}
}

func (l *identityLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
