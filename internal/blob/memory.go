package blob

import (
	"fmt"
	"sync"
)

// MemoryStore keeps blobs in memory. Used by tests and the demo seeder.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores the blob
func (s *MemoryStore) Put(path string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = append([]byte(nil), data...)
	return "mem://" + path, nil
}

// Get retrieves a blob
func (s *MemoryStore) Get(path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob not found: %s", path)
	}
	return append([]byte(nil), data...), nil
}
