package attendance

import (
	"sync"

	"github.com/trezcool/darasa/core"
)

type refMutex struct {
	sync.Mutex
	refs int
}

// keyedMutex serializes work per (group, date). Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func sessionKey(groupID string, date core.Date) string {
	return groupID + "|" + string(date)
}

// Lock blocks until key is free and returns its unlock func.
func (km *keyedMutex) Lock(key string) func() {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = new(refMutex)
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		km.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}

func (km *keyedMutex) size() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}
