// Package keylock provides per-key mutual exclusion without a global lock across keys.
package keylock

import (
	"context"
	"sync"
)

// Map hands out one lock per key. Entries are reference counted and dropped once
// no goroutine holds or waits for them, so the map only grows with live contention.
type Map[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func New[K comparable]() *Map[K] {
	return &Map[K]{locks: make(map[K]*entry)}
}

// Lock blocks until the lock for key is held or ctx is done. The returned unlock
// func is safe to call more than once; only the first call releases.
func (m *Map[K]) Lock(ctx context.Context, key K) (func(), error) {
	e := m.acquireRef(key)

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		m.releaseRef(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			<-e.ch
			m.releaseRef(key, e)
		})
	}

	return unlock, nil
}

// Len reports how many keys currently have holders or waiters.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.locks)
}

func (m *Map[K]) acquireRef(key K) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks == nil {
		m.locks = make(map[K]*entry)
	}

	e, ok := m.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++

	return e
}

func (m *Map[K]) releaseRef(key K, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}
