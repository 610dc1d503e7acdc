package flow

import "sync"

// userLocks serializes work per user id. Entries are dropped once no caller
// holds or waits for them, so idle users cost nothing.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// Lock blocks until the caller holds the lock for userID and returns the unlock func.
func (u *userLocks) Lock(userID string) func() {
	u.mu.Lock()
	l, ok := u.locks[userID]
	if !ok {
		l = &userLock{}
		u.locks[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.locks, userID)
		}
		u.mu.Unlock()
	}
}

// held returns the number of users with an active or pending lock (for tests).
func (u *userLocks) held() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.locks)
}
