package store

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu   sync.Mutex
	logs map[string][]string
}

// NewMemory returns a store that keeps logs in memory only.
func NewMemory() Store {
	return &memoryStore{logs: make(map[string][]string)}
}

func (s *memoryStore) Append(ctx context.Context, docId string, opStrs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[docId] = append(s.logs[docId], opStrs...)
	return nil
}

func (s *memoryStore) Load(ctx context.Context, docId string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logs[docId]...), nil
}

func (s *memoryStore) Close() error {
	return nil
}
