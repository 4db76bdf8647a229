package faq

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SimilarityIndex stores one embedding per canonical question and answers
// nearest-neighbour queries under Euclidean distance.
type SimilarityIndex interface {
	// Insert adds or replaces the vector for id.
	Insert(ctx context.Context, id uuid.UUID, vector []float32) error
	// Delete removes the vector for id; absent ids are not an error.
	Delete(ctx context.Context, id uuid.UUID) error
	// Query returns up to k neighbours ordered by ascending distance, ties by id.
	Query(ctx context.Context, vector []float32, k int) ([]Neighbor, error)
	// Lookup returns the stored vector for id.
	Lookup(ctx context.Context, id uuid.UUID) ([]float32, bool, error)
}

// AnswerStore maps canonical question ids to their question and answer text.
type AnswerStore interface {
	Upsert(ctx context.Context, record AnswerRecord) error
	Get(ctx context.Context, id uuid.UUID) (AnswerRecord, bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int, error)
}

// Session holds request-scoped handles to both stores. Release must be
// called exactly once, on every exit path.
type Session interface {
	Index() SimilarityIndex
	Answers() AnswerStore
	Release()
}

// TxSession is a Session whose stores live in one database. WithinTx runs
// fn against a session bound to a single transaction and commits only when
// fn returns nil, so both writes of a record become visible together.
type TxSession interface {
	Session
	WithinTx(ctx context.Context, fn func(tx Session) error) error
}

// Backend hands out sessions, typically backed by one pooled connection.
type Backend interface {
	Acquire(ctx context.Context) (Session, error)
}

// Embedder produces embeddings for free form text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// AnswerCache is a read-through cache in front of the answer store.
type AnswerCache interface {
	GetAnswer(ctx context.Context, id uuid.UUID) (AnswerRecord, bool, error)
	SaveAnswer(ctx context.Context, record AnswerRecord, ttl time.Duration) error
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// UploadArchive persists raw uploaded datasets.
type UploadArchive interface {
	Save(ctx context.Context, filename string, data []byte) (string, error)
}

// DatasetParser turns an uploaded file into question/answer pairs.
type DatasetParser interface {
	Parse(filename string, data []byte) ([]QAPair, error)
}
