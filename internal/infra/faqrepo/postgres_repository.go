package faqrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/yanqian/semantic-faq/internal/domain/faq"
)

// PostgresBackend stores embeddings in a pgvector column and answers in a
// plain table. Each session pins one pooled connection.
type PostgresBackend struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPostgresBackend constructs the backend.
func NewPostgresBackend(pool *pgxpool.Pool, dim int) *PostgresBackend {
	return &PostgresBackend{pool: pool, dim: dim}
}

// EnsureSchema creates the extension and tables when missing.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS faq_embeddings (
			id UUID PRIMARY KEY,
			embedding vector(%d) NOT NULL
		)`, b.dim),
		`CREATE TABLE IF NOT EXISTS faq_answers (
			id UUID PRIMARY KEY,
			question_text TEXT NOT NULL,
			answer_text TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Acquire implements faq.Backend.
func (b *PostgresBackend) Acquire(ctx context.Context) (faq.Session, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &postgresSession{conn: conn, q: conn, dim: b.dim}, nil
}

// pgQuerier is satisfied by both a pooled connection and a transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresSession struct {
	conn *pgxpool.Conn
	q    pgQuerier
	inTx bool
	dim  int
}

func (s *postgresSession) Index() faq.SimilarityIndex { return postgresIndex{s} }
func (s *postgresSession) Answers() faq.AnswerStore    { return postgresAnswers{s} }

// Release returns the connection to the pool. A transaction-bound session
// does not own its connection, so releasing it is a no-op.
func (s *postgresSession) Release() {
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
		s.q = nil
	}
}

// WithinTx implements faq.TxSession. Nested calls join the open transaction.
func (s *postgresSession) WithinTx(ctx context.Context, fn func(tx faq.Session) error) error {
	if s.inTx {
		return fn(s)
	}
	if s.conn == nil {
		return errSessionReleased
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&postgresSession{q: tx, inTx: true, dim: s.dim}); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type postgresIndex struct{ s *postgresSession }

func (i postgresIndex) Insert(ctx context.Context, id uuid.UUID, vector []float32) error {
	if err := checkDimension(i.s.dim, vector); err != nil {
		return err
	}
	_, err := i.s.q.Exec(ctx, `
		INSERT INTO faq_embeddings (id, embedding)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding
	`, id, pgvector.NewVector(vector))
	return err
}

func (i postgresIndex) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := i.s.q.Exec(ctx, `DELETE FROM faq_embeddings WHERE id = $1`, id)
	return err
}

func (i postgresIndex) Query(ctx context.Context, vector []float32, k int) ([]faq.Neighbor, error) {
	if err := checkDimension(i.s.dim, vector); err != nil {
		return nil, err
	}
	rows, err := i.s.q.Query(ctx, `
		SELECT id, embedding <-> $1 AS distance
		FROM faq_embeddings
		ORDER BY distance, id
		LIMIT $2
	`, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var neighbors []faq.Neighbor
	for rows.Next() {
		var n faq.Neighbor
		if err := rows.Scan(&n.ID, &n.Distance); err != nil {
			return nil, err
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, rows.Err()
}

func (i postgresIndex) Lookup(ctx context.Context, id uuid.UUID) ([]float32, bool, error) {
	var stored pgvector.Vector
	err := i.s.q.QueryRow(ctx, `SELECT embedding FROM faq_embeddings WHERE id = $1`, id).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cloneVector(stored.Slice()), true, nil
}

type postgresAnswers struct{ s *postgresSession }

func (a postgresAnswers) Upsert(ctx context.Context, record faq.AnswerRecord) error {
	_, err := a.s.q.Exec(ctx, `
		INSERT INTO faq_answers (id, question_text, answer_text, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET question_text = EXCLUDED.question_text,
			answer_text = EXCLUDED.answer_text,
			updated_at = EXCLUDED.updated_at
	`, record.ID, record.QuestionText, record.AnswerText, record.UpdatedAt)
	return err
}

func (a postgresAnswers) Get(ctx context.Context, id uuid.UUID) (faq.AnswerRecord, bool, error) {
	var rec faq.AnswerRecord
	err := a.s.q.QueryRow(ctx, `
		SELECT id, question_text, answer_text, updated_at
		FROM faq_answers
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.QuestionText, &rec.AnswerText, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return faq.AnswerRecord{}, false, nil
	}
	if err != nil {
		return faq.AnswerRecord{}, false, err
	}
	return rec, true, nil
}

func (a postgresAnswers) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := a.s.q.Exec(ctx, `DELETE FROM faq_answers WHERE id = $1`, id)
	return err
}

func (a postgresAnswers) Count(ctx context.Context) (int, error) {
	var count int
	err := a.s.q.QueryRow(ctx, `SELECT count(*) FROM faq_answers`).Scan(&count)
	return count, err
}

var (
	_ faq.Backend   = (*PostgresBackend)(nil)
	_ faq.TxSession = (*postgresSession)(nil)
)
