package service

import "sync"

// keyLocks is an arena of per-key mutexes guarding delivery record
// transitions. Locks are created on first use and dropped once the last
// holder releases, so the map does not grow with ledger history.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// Lock acquires the mutex for key and returns its release function.
func (kl *keyLocks) Lock(key string) func() {
	kl.mu.Lock()
	lock, ok := kl.locks[key]
	if !ok {
		lock = &keyLock{}
		kl.locks[key] = lock
	}
	lock.refs++
	kl.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		kl.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(kl.locks, key)
		}
		kl.mu.Unlock()
	}
}
