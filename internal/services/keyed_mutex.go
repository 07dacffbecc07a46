package services

import "sync"

// keyedMutex serializes work per key (conversation id) inside one process.
// Entries are reference counted and removed when the last holder unlocks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uint]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uint]*refLock)}
}

// Lock blocks until key is held and returns the matching unlock func.
func (k *keyedMutex) Lock(key uint) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
