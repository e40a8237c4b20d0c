package kvstore

import (
	"context"
	"sync"
)

// MemoryStore implements Store with a mutex-guarded map. It is the default
// backend for a single process and the test double for everything else.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[int]Watcher
	nextID   int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string][]byte),
		watchers: make(map[int]Watcher),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.data[key]
	if !exists {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	s.data[key] = stored
	watchers := s.snapshotWatchers()
	s.mu.Unlock()

	for _, w := range watchers {
		w(key, stored)
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	_, existed := s.data[key]
	delete(s.data, key)
	watchers := s.snapshotWatchers()
	s.mu.Unlock()

	if existed {
		for _, w := range watchers {
			w(key, nil)
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(w Watcher) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = w
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// snapshotWatchers copies the watcher set so notifications run without the
// lock held. Callers must hold mu.
func (s *MemoryStore) snapshotWatchers() []Watcher {
	out := make([]Watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		out = append(out, w)
	}
	return out
}
