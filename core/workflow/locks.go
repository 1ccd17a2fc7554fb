package workflow

import "sync"

// KeyedLocks hands out one read/write mutex per key and forgets it once
// nobody holds or waits for it.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.RWMutex
	refs int
}

// NewKeyedLocks returns an empty lock table.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: map[string]*keyedLock{}}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *KeyedLocks) Lock(key string) func() {
	l := k.ref(key)
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.unref(key, l)
	}
}

// RLock blocks until no writer holds key. Readers share it.
func (k *KeyedLocks) RLock(key string) func() {
	l := k.ref(key)
	l.mu.RLock()
	return func() {
		l.mu.RUnlock()
		k.unref(key, l)
	}
}

func (k *KeyedLocks) ref(key string) *keyedLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyedLocks) unref(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (k *KeyedLocks) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func lockKey(family, group string) string {
	return family + "|" + group
}
