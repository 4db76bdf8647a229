package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
)

// MemoryStorage keeps blobs in memory. Useful for tests and local dev.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStorage constructs storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string][]byte)}
}

// Put stores the blob and returns metadata.
func (s *MemoryStorage) Put(_ context.Context, key string, data []byte, _ string) (Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := md5.Sum(data)
	s.blobs[key] = append([]byte(nil), data...)
	return Object{Key: key, Size: int64(len(data)), ETag: hex.EncodeToString(hash[:])}, nil
}

// Blob returns a copy of a stored object.
func (s *MemoryStorage) Blob(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	return append([]byte(nil), data...), ok
}

var _ ObjectStore = (*MemoryStorage)(nil)
