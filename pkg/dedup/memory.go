package dedup

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Suitable only for single-instance,
// non-restarting deployments; use FileStore when the gateway can be
// recycled between the consent prompt and its completion.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]string)}
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, key Key, value string) (CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; exists {
		return Conflict, nil
	}
	s.records[key] = value
	return Created, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys []Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.records, k)
	}
	return nil
}

// Len reports the number of live records, for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
