package faqstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/semantic-faq/internal/domain/faq"
)

type cachedAnswer struct {
	payload   faq.AnswerRecord
	expiresAt time.Time
}

// MemoryStore is an in-process answer cache for tests/dev.
type MemoryStore struct {
	mu      sync.RWMutex
	answers map[uuid.UUID]cachedAnswer
	now     func() time.Time
}

// NewMemoryStore constructs a cache backed by process memory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		answers: make(map[uuid.UUID]cachedAnswer),
		now:     time.Now,
	}
}

// GetAnswer implements faq.AnswerCache.
func (s *MemoryStore) GetAnswer(_ context.Context, id uuid.UUID) (faq.AnswerRecord, bool, error) {
	s.mu.RLock()
	entry, ok := s.answers[id]
	s.mu.RUnlock()
	if !ok {
		return faq.AnswerRecord{}, false, nil
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.answers, id)
		s.mu.Unlock()
		return faq.AnswerRecord{}, false, nil
	}
	return entry.payload, true, nil
}

// SaveAnswer implements faq.AnswerCache. A non-positive ttl never expires.
func (s *MemoryStore) SaveAnswer(_ context.Context, record faq.AnswerRecord, ttl time.Duration) error {
	entry := cachedAnswer{payload: record}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.answers[record.ID] = entry
	s.mu.Unlock()
	return nil
}

// Invalidate implements faq.AnswerCache.
func (s *MemoryStore) Invalidate(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	delete(s.answers, id)
	s.mu.Unlock()
	return nil
}

var _ faq.AnswerCache = (*MemoryStore)(nil)
