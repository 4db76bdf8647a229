package faqrepo

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/yanqian/semantic-faq/internal/domain/faq"
)

// MemoryBackend keeps the similarity index and answer store in process memory.
// Used for tests and local development.
type MemoryBackend struct {
	mu      sync.RWMutex
	dim     int
	vectors map[uuid.UUID][]float32
	answers map[uuid.UUID]faq.AnswerRecord
}

// NewMemoryBackend constructs an empty backend for vectors of length dim.
func NewMemoryBackend(dim int) *MemoryBackend {
	return &MemoryBackend{
		dim:     dim,
		vectors: make(map[uuid.UUID][]float32),
		answers: make(map[uuid.UUID]faq.AnswerRecord),
	}
}

// Acquire implements faq.Backend.
func (b *MemoryBackend) Acquire(ctx context.Context) (faq.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return memorySession{backend: b}, nil
}

type memorySession struct {
	backend *MemoryBackend
}

func (s memorySession) Index() faq.SimilarityIndex { return memoryIndex(s) }
func (s memorySession) Answers() faq.AnswerStore    { return memoryAnswers(s) }
func (s memorySession) Release()                    {}

type memoryIndex memorySession

func (i memoryIndex) Insert(_ context.Context, id uuid.UUID, vector []float32) error {
	b := i.backend
	if err := checkDimension(b.dim, vector); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vectors[id] = cloneVector(vector)
	return nil
}

func (i memoryIndex) Delete(_ context.Context, id uuid.UUID) error {
	b := i.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.vectors, id)
	return nil
}

func (i memoryIndex) Query(_ context.Context, vector []float32, k int) ([]faq.Neighbor, error) {
	b := i.backend
	if err := checkDimension(b.dim, vector); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	candidates := make([]faq.Neighbor, 0, len(b.vectors))
	for id, stored := range b.vectors {
		candidates = append(candidates, faq.Neighbor{ID: id, Distance: euclideanDistance(vector, stored)})
	}
	return nearest(candidates, k), nil
}

func (i memoryIndex) Lookup(_ context.Context, id uuid.UUID) ([]float32, bool, error) {
	b := i.backend
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.vectors[id]
	if !ok {
		return nil, false, nil
	}
	return cloneVector(v), true, nil
}

type memoryAnswers memorySession

func (a memoryAnswers) Upsert(_ context.Context, record faq.AnswerRecord) error {
	b := a.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers[record.ID] = record
	return nil
}

func (a memoryAnswers) Get(_ context.Context, id uuid.UUID) (faq.AnswerRecord, bool, error) {
	b := a.backend
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.answers[id]
	return rec, ok, nil
}

func (a memoryAnswers) Delete(_ context.Context, id uuid.UUID) error {
	b := a.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.answers, id)
	return nil
}

func (a memoryAnswers) Count(context.Context) (int, error) {
	b := a.backend
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.answers), nil
}

var _ faq.Backend = (*MemoryBackend)(nil)
