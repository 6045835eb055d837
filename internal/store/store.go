// Package store holds the shared in-memory key-value state. It is the only
// piece of state shared across connections; all access goes through the
// synchronized methods below.
package store

import "sync"

// Store is a mutex-guarded map from key to value. Reads dominate writes in
// the target workloads, so a read/write lock lets concurrent GET/KEYS proceed
// in parallel. Lock acquisition parks the calling goroutine rather than an OS
// thread, so the same Store serves the threaded and task-based strategies.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]string),
	}
}

// Get returns the current value of a key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	return value, ok
}

// Set stores a value, overwriting any existing value for the key.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
}

// Delete removes a key and reports whether it existed. Deleting an absent
// key is not an error.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data[key]
	if ok {
		delete(s.data, key)
	}
	return ok
}

// Keys returns a snapshot of all keys at call time. The order is map
// iteration order: stable within one call, unspecified across calls. Later
// mutations do not affect an already-returned slice.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of keys currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}
