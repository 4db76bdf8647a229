package faq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend keeps both stores in maps and lets tests inject failures.
type fakeBackend struct {
	mu       sync.Mutex
	dim      int
	vectors  map[uuid.UUID][]float32
	answers  map[uuid.UUID]AnswerRecord
	acquired int
	released int

	acquireErr error
	insertErr  func(id uuid.UUID) error
	upsertErr  func(record AnswerRecord) error
	queryErr   error
	afterGet   func(id uuid.UUID)

	// transactional makes sessions implement TxSession; a failed
	// transaction puts both maps back as they were.
	transactional bool
	commits       int
	rollbacks     int
}

func newFakeBackend(dim int) *fakeBackend {
	return &fakeBackend{
		dim:     dim,
		vectors: make(map[uuid.UUID][]float32),
		answers: make(map[uuid.UUID]AnswerRecord),
	}
}

func (b *fakeBackend) Acquire(context.Context) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.acquireErr != nil {
		return nil, b.acquireErr
	}
	b.acquired++
	if b.transactional {
		return fakeTxSession{&fakeSession{backend: b}}, nil
	}
	return &fakeSession{backend: b}, nil
}

func (b *fakeBackend) txCounts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commits, b.rollbacks
}

func (b *fakeBackend) sessions() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquired, b.released
}

// requireConsistent asserts both stores hold exactly the same ids.
func (b *fakeBackend) requireConsistent(t *testing.T) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.Equal(t, len(b.vectors), len(b.answers))
	for id := range b.vectors {
		_, ok := b.answers[id]
		require.True(t, ok, "index id %s has no answer row", id)
	}
}

type fakeSession struct {
	backend  *fakeBackend
	released bool
}

func (s *fakeSession) Index() SimilarityIndex { return fakeIndex{s.backend} }
func (s *fakeSession) Answers() AnswerStore    { return fakeAnswers{s.backend} }

func (s *fakeSession) Release() {
	if s.released {
		panic("session released twice")
	}
	s.released = true
	s.backend.mu.Lock()
	s.backend.released++
	s.backend.mu.Unlock()
}

type fakeTxSession struct{ *fakeSession }

func (s fakeTxSession) WithinTx(_ context.Context, fn func(tx Session) error) error {
	b := s.backend
	b.mu.Lock()
	vectors := make(map[uuid.UUID][]float32, len(b.vectors))
	for id, v := range b.vectors {
		vectors[id] = v
	}
	answers := make(map[uuid.UUID]AnswerRecord, len(b.answers))
	for id, a := range b.answers {
		answers[id] = a
	}
	b.mu.Unlock()

	err := fn(&fakeSession{backend: b})

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.vectors, b.answers = vectors, answers
		b.rollbacks++
		return err
	}
	b.commits++
	return nil
}

type fakeIndex struct{ b *fakeBackend }

func (i fakeIndex) Insert(_ context.Context, id uuid.UUID, vector []float32) error {
	if len(vector) != i.b.dim {
		return fmt.Errorf("%w: got %d", ErrDimensionMismatch, len(vector))
	}
	if i.b.insertErr != nil {
		if err := i.b.insertErr(id); err != nil {
			return err
		}
	}
	i.b.mu.Lock()
	defer i.b.mu.Unlock()
	i.b.vectors[id] = append([]float32(nil), vector...)
	return nil
}

func (i fakeIndex) Delete(_ context.Context, id uuid.UUID) error {
	i.b.mu.Lock()
	defer i.b.mu.Unlock()
	delete(i.b.vectors, id)
	return nil
}

func (i fakeIndex) Query(_ context.Context, vector []float32, k int) ([]Neighbor, error) {
	if i.b.queryErr != nil {
		return nil, i.b.queryErr
	}
	if len(vector) != i.b.dim {
		return nil, fmt.Errorf("%w: got %d", ErrDimensionMismatch, len(vector))
	}
	i.b.mu.Lock()
	defer i.b.mu.Unlock()
	out := make([]Neighbor, 0, len(i.b.vectors))
	for id, stored := range i.b.vectors {
		var sum float64
		for j := range stored {
			d := float64(stored[j] - vector[j])
			sum += d * d
		}
		out = append(out, Neighbor{ID: id, Distance: math.Sqrt(sum)})
	}
	sort.Slice(out, func(a, c int) bool {
		if out[a].Distance != out[c].Distance {
			return out[a].Distance < out[c].Distance
		}
		return bytes.Compare(out[a].ID[:], out[c].ID[:]) < 0
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (i fakeIndex) Lookup(_ context.Context, id uuid.UUID) ([]float32, bool, error) {
	i.b.mu.Lock()
	defer i.b.mu.Unlock()
	v, ok := i.b.vectors[id]
	return append([]float32(nil), v...), ok, nil
}

type fakeAnswers struct{ b *fakeBackend }

func (a fakeAnswers) Upsert(_ context.Context, record AnswerRecord) error {
	if a.b.upsertErr != nil {
		if err := a.b.upsertErr(record); err != nil {
			return err
		}
	}
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	a.b.answers[record.ID] = record
	return nil
}

func (a fakeAnswers) Get(_ context.Context, id uuid.UUID) (AnswerRecord, bool, error) {
	a.b.mu.Lock()
	rec, ok := a.b.answers[id]
	a.b.mu.Unlock()
	if a.b.afterGet != nil {
		a.b.afterGet(id)
	}
	return rec, ok, nil
}

func (a fakeAnswers) Delete(_ context.Context, id uuid.UUID) error {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	delete(a.b.answers, id)
	return nil
}

func (a fakeAnswers) Count(context.Context) (int, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	return len(a.b.answers), nil
}

// stubEmbedder maps normalized text to fixed vectors.
type stubEmbedder struct {
	calls   atomic.Int32
	vectors map[string][]float32
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls.Add(1)
	if s.embedFn != nil {
		return s.embedFn(ctx, texts)
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, ok := s.vectors[normalizeQuestion(text)]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", text)
		}
		out = append(out, v)
	}
	return out, nil
}

type stubCache struct {
	mu          sync.Mutex
	entries     map[uuid.UUID]AnswerRecord
	invalidated []uuid.UUID
}

// hungCache blocks every call until its context gives up.
type hungCache struct{}

func (hungCache) GetAnswer(ctx context.Context, _ uuid.UUID) (AnswerRecord, bool, error) {
	<-ctx.Done()
	return AnswerRecord{}, false, ctx.Err()
}

func (hungCache) SaveAnswer(ctx context.Context, _ AnswerRecord, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func (hungCache) Invalidate(ctx context.Context, _ uuid.UUID) error {
	<-ctx.Done()
	return ctx.Err()
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[uuid.UUID]AnswerRecord)}
}

func (c *stubCache) GetAnswer(_ context.Context, id uuid.UUID) (AnswerRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[id]
	return rec, ok, nil
}

func (c *stubCache) SaveAnswer(_ context.Context, record AnswerRecord, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[record.ID] = record
	return nil
}

func (c *stubCache) Invalidate(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type stubArchive struct {
	saveFn func(ctx context.Context, filename string, data []byte) (string, error)
}

func (s stubArchive) Save(ctx context.Context, filename string, data []byte) (string, error) {
	if s.saveFn != nil {
		return s.saveFn(ctx, filename, data)
	}
	return "uploads/" + filename, nil
}

type stubParser struct {
	calls   int
	parseFn func(filename string, data []byte) ([]QAPair, error)
}

func (s *stubParser) Parse(filename string, data []byte) ([]QAPair, error) {
	s.calls++
	if s.parseFn != nil {
		return s.parseFn(filename, data)
	}
	return nil, errors.New("no parser configured")
}

func testConfig() Config {
	return Config{
		Dimension:    2,
		MaxDistance:  0.5,
		TopK:         3,
		EmbedTimeout: time.Second,
		StoreTimeout: time.Second,
		CacheTTL:     time.Minute,
	}
}
