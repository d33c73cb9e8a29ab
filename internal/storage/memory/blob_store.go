// Package memory keeps snapshots in process memory, for dry runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/freegame-watcher/internal/dedupstore"
)

// BlobStore implements dedupstore.Backend with a map.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// Get returns a copy of the named snapshot.
func (s *BlobStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[name]
	if !ok {
		return nil, dedupstore.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

// Put stores a copy of data under name.
func (s *BlobStore) Put(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = append([]byte(nil), data...)
	return nil
}

// Names lists stored snapshot names.
func (s *BlobStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}
