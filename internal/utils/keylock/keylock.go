// Package keylock serializes work per chat member.
package keylock

import "sync"

type key struct {
	chatID int64
	userID int64
}

// Map holds one mutex per chat member. Entries are removed once nobody holds or
// waits for them.
type Map struct {
	mu    sync.Mutex
	locks map[key]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func New() *Map {
	return &Map{locks: make(map[key]*refMutex)}
}

// Lock blocks until the member is free and returns the unlock function.
func (l *Map) Lock(chatID, userID int64) func() {
	k := key{chatID: chatID, userID: userID}

	l.mu.Lock()
	m, ok := l.locks[k]
	if !ok {
		m = &refMutex{}
		l.locks[k] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, k)
		}
		l.mu.Unlock()
	}
}

// Len is the number of members currently locked or awaited.
func (l *Map) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
