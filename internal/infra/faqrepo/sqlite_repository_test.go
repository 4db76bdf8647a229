package faqrepo

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/semantic-faq/internal/domain/faq"
)

func TestSQLiteBackend(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "faq", "faq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	backend := NewSQLiteBackend(db, 2)
	require.NoError(t, backend.EnsureSchema(context.Background()))
	require.NoError(t, backend.EnsureSchema(context.Background()))

	exerciseBackend(t, backend)
}

func TestSQLiteSessionReleaseIsIdempotent(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "faq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sess, err := NewSQLiteBackend(db, 2).Acquire(context.Background())
	require.NoError(t, err)
	sess.Release()
	sess.Release()
}

func openTestBackend(t *testing.T) (*SQLiteBackend, *sql.DB) {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "faq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	backend := NewSQLiteBackend(db, 2)
	require.NoError(t, backend.EnsureSchema(context.Background()))
	return backend, db
}

func TestSQLiteWithinTx(t *testing.T) {
	backend, _ := openTestBackend(t)
	ctx := context.Background()
	sess, err := backend.Acquire(ctx)
	require.NoError(t, err)
	defer sess.Release()
	txs, ok := sess.(faq.TxSession)
	require.True(t, ok)

	id := faq.CanonicalID("alpha")
	boom := errors.New("boom")
	err = txs.WithinTx(ctx, func(tx faq.Session) error {
		require.NoError(t, tx.Index().Insert(ctx, id, []float32{1, 0}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, found, err := sess.Index().Lookup(ctx, id)
	require.NoError(t, err)
	require.False(t, found)

	err = txs.WithinTx(ctx, func(tx faq.Session) error {
		if err := tx.Index().Insert(ctx, id, []float32{1, 0}); err != nil {
			return err
		}
		return tx.Answers().Upsert(ctx, faq.AnswerRecord{ID: id, QuestionText: "alpha", AnswerText: "a", UpdatedAt: time.Now()})
	})
	require.NoError(t, err)
	_, found, err = sess.Index().Lookup(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	count, err := sess.Answers().Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestSQLitePipelineAnswerFailureLeavesNoVector(t *testing.T) {
	backend, db := openTestBackend(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `
		CREATE TRIGGER reject_bad_answer BEFORE INSERT ON faq_answers
		WHEN NEW.answer_text = 'bad'
		BEGIN SELECT RAISE(ABORT, 'answer rejected'); END
	`)
	require.NoError(t, err)

	cfg := faq.Config{Dimension: 2, MaxDistance: 0.5, TopK: 3, EmbedTimeout: time.Second, StoreTimeout: time.Second}
	p := faq.NewPipeline(cfg, backend, fixedEmbedder{}, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	report, err := p.Ingest(ctx, []faq.QAPair{
		{Question: "good", Answer: "fine"},
		{Question: "broken", Answer: "bad"},
	})
	require.NoError(t, err)
	require.Equal(t, faq.IngestPartial, report.Status)

	sess, err := backend.Acquire(ctx)
	require.NoError(t, err)
	defer sess.Release()
	_, found, err := sess.Index().Lookup(ctx, faq.CanonicalID("broken"))
	require.NoError(t, err)
	require.False(t, found)
	_, found, err = sess.Index().Lookup(ctx, faq.CanonicalID("good"))
	require.NoError(t, err)
	require.True(t, found)
}
