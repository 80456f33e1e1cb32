package engine

import "sync"

// userLocks serializes sync operations per user id. Two concurrent pulls for
// the same user must not interleave their cursor read/advance; operations
// for different users proceed in parallel. Locks are created lazily and
// never discarded, which is fine at one mutex per linked user.
type userLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[uint]*sync.Mutex)}
}

// Acquire locks the given user's mutex and returns the unlock function.
func (l *userLocks) Acquire(userID uint) func() {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
