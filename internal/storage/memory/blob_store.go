// Package memory keeps archived items in memory, for dry runs and tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/JakeFAU/listcrawler/internal/storage"
)

// BlobStore holds archive objects keyed by object key.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]storage.Object
}

// NewBlobStore creates an empty store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]storage.Object)}
}

// PutObject keeps a copy of obj and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, obj storage.Object) (string, error) {
	if err := storage.ValidateKey(obj.Key); err != nil {
		return "", err
	}
	obj.Body = slices.Clone(obj.Body)
	obj.Metadata = maps.Clone(obj.Metadata)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Key] = obj
	return "memory://" + obj.Key, nil
}

// Get returns a copy of the object stored under key.
func (s *BlobStore) Get(key string) (storage.Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return storage.Object{}, false
	}
	obj.Body = slices.Clone(obj.Body)
	obj.Metadata = maps.Clone(obj.Metadata)
	return obj, true
}

// Keys lists stored object keys in sorted order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.objects))
}
