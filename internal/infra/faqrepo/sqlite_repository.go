package faqrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/yanqian/semantic-faq/internal/domain/faq"
)

var errSessionReleased = errors.New("session already released")

// OpenSQLite opens (and creates) the database file in WAL mode.
func OpenSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// SQLiteBackend stores vectors as float32 blobs and scans them for queries.
// Suitable for small FAQ sets on a single node.
type SQLiteBackend struct {
	db  *sql.DB
	dim int
}

// NewSQLiteBackend constructs the backend.
func NewSQLiteBackend(db *sql.DB, dim int) *SQLiteBackend {
	return &SQLiteBackend{db: db, dim: dim}
}

// EnsureSchema creates the tables when missing.
func (b *SQLiteBackend) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS faq_embeddings (
			id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS faq_answers (
			id TEXT PRIMARY KEY,
			question_text TEXT NOT NULL,
			answer_text TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Acquire implements faq.Backend.
func (b *SQLiteBackend) Acquire(ctx context.Context) (faq.Session, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqliteSession{conn: conn, q: conn, dim: b.dim}, nil
}

// sqlQuerier is satisfied by both *sql.Conn and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteSession struct {
	conn *sql.Conn
	q    sqlQuerier
	inTx bool
	dim  int
}

func (s *sqliteSession) Index() faq.SimilarityIndex { return sqliteIndex{s} }
func (s *sqliteSession) Answers() faq.AnswerStore    { return sqliteAnswers{s} }

func (s *sqliteSession) Release() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
		s.q = nil
	}
}

// WithinTx implements faq.TxSession. The transaction is rolled back by
// database/sql if ctx ends before Commit.
func (s *sqliteSession) WithinTx(ctx context.Context, fn func(tx faq.Session) error) error {
	if s.inTx {
		return fn(s)
	}
	if s.conn == nil {
		return errSessionReleased
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&sqliteSession{q: tx, inTx: true, dim: s.dim}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqliteIndex struct{ s *sqliteSession }

func (i sqliteIndex) Insert(ctx context.Context, id uuid.UUID, vector []float32) error {
	if err := checkDimension(i.s.dim, vector); err != nil {
		return err
	}
	_, err := i.s.q.ExecContext(ctx, `
		INSERT INTO faq_embeddings (id, embedding) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET embedding = excluded.embedding
	`, id.String(), encodeVector(vector))
	return err
}

func (i sqliteIndex) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := i.s.q.ExecContext(ctx, `DELETE FROM faq_embeddings WHERE id = ?`, id.String())
	return err
}

func (i sqliteIndex) Query(ctx context.Context, vector []float32, k int) ([]faq.Neighbor, error) {
	if err := checkDimension(i.s.dim, vector); err != nil {
		return nil, err
	}
	rows, err := i.s.q.QueryContext(ctx, `SELECT id, embedding FROM faq_embeddings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []faq.Neighbor
	for rows.Next() {
		var (
			rawID string
			blob  []byte
		)
		if err := rows.Scan(&rawID, &blob); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("stored id %q: %w", rawID, err)
		}
		stored, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		if len(stored) != len(vector) {
			return nil, fmt.Errorf("%w: stored vector %s has %d values", faq.ErrDimensionMismatch, id, len(stored))
		}
		candidates = append(candidates, faq.Neighbor{ID: id, Distance: euclideanDistance(vector, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nearest(candidates, k), nil
}

func (i sqliteIndex) Lookup(ctx context.Context, id uuid.UUID) ([]float32, bool, error) {
	var blob []byte
	err := i.s.q.QueryRowContext(ctx, `SELECT embedding FROM faq_embeddings WHERE id = ?`, id.String()).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vector, err := decodeVector(blob)
	if err != nil {
		return nil, false, err
	}
	return vector, true, nil
}

type sqliteAnswers struct{ s *sqliteSession }

func (a sqliteAnswers) Upsert(ctx context.Context, record faq.AnswerRecord) error {
	_, err := a.s.q.ExecContext(ctx, `
		INSERT INTO faq_answers (id, question_text, answer_text, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET question_text = excluded.question_text,
			answer_text = excluded.answer_text,
			updated_at = excluded.updated_at
	`, record.ID.String(), record.QuestionText, record.AnswerText, record.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (a sqliteAnswers) Get(ctx context.Context, id uuid.UUID) (faq.AnswerRecord, bool, error) {
	var updated string
	rec := faq.AnswerRecord{ID: id}
	err := a.s.q.QueryRowContext(ctx, `
		SELECT question_text, answer_text, updated_at
		FROM faq_answers
		WHERE id = ?
	`, id.String()).Scan(&rec.QuestionText, &rec.AnswerText, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return faq.AnswerRecord{}, false, nil
	}
	if err != nil {
		return faq.AnswerRecord{}, false, err
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return faq.AnswerRecord{}, false, fmt.Errorf("parse updated_at: %w", err)
	}
	return rec, true, nil
}

func (a sqliteAnswers) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := a.s.q.ExecContext(ctx, `DELETE FROM faq_answers WHERE id = ?`, id.String())
	return err
}

func (a sqliteAnswers) Count(ctx context.Context) (int, error) {
	var count int
	err := a.s.q.QueryRowContext(ctx, `SELECT count(*) FROM faq_answers`).Scan(&count)
	return count, err
}

var (
	_ faq.Backend   = (*SQLiteBackend)(nil)
	_ faq.TxSession = (*sqliteSession)(nil)
)
