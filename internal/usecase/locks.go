package usecase

import "sync"

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the lock for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// roundRegistry holds the live engine of every session with an analysis in flight.
type roundRegistry struct {
	mu      sync.Mutex
	engines map[string]*Engine
}

func newRoundRegistry() *roundRegistry {
	return &roundRegistry{engines: make(map[string]*Engine)}
}

func (r *roundRegistry) add(id string, e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[id] = e
}

func (r *roundRegistry) get(id string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[id]
	return e, ok
}

func (r *roundRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, id)
}
