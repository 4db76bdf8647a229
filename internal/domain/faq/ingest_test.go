package faq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yanqian/semantic-faq/pkg/errors"
)

func newTestPipeline(cfg Config, backend *fakeBackend, embedder Embedder, cache AnswerCache) *Pipeline {
	return NewPipeline(cfg, backend, embedder, cache, nil, newTestLogger())
}

func threeVectors() map[string][]float32 {
	return map[string][]float32{
		"one":   {1, 0},
		"two":   {0, 1},
		"three": {1, 1},
	}
}

func TestIngestEmptyDatasetIsFatal(t *testing.T) {
	backend := newFakeBackend(2)
	p := newTestPipeline(testConfig(), backend, &stubEmbedder{}, nil)

	_, err := p.Ingest(context.Background(), nil)
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, CodeInvalidDataset))
	require.ErrorIs(t, err, ErrEmptyDataset)

	acquired, _ := backend.sessions()
	require.Zero(t, acquired)
}

func TestIngestIsIdempotent(t *testing.T) {
	backend := newFakeBackend(2)
	p := newTestPipeline(testConfig(), backend, &stubEmbedder{vectors: threeVectors()}, nil)
	pairs := []QAPair{
		{Question: "one", Answer: "1"},
		{Question: "two", Answer: "2"},
		{Question: "three", Answer: "3"},
	}

	first, err := p.Ingest(context.Background(), pairs)
	require.NoError(t, err)
	require.Equal(t, IngestSuccess, first.Status)
	require.Equal(t, 3, first.Loaded)
	require.Equal(t, "Loaded 3 of 3 records.", first.Summary())

	second, err := p.Ingest(context.Background(), pairs)
	require.NoError(t, err)
	require.Equal(t, 3, second.Loaded)

	require.Len(t, backend.vectors, 3)
	backend.requireConsistent(t)
	acquired, released := backend.sessions()
	require.Equal(t, acquired, released)
}

func TestIngestUpsertReplacesAnswerAndVector(t *testing.T) {
	backend := newFakeBackend(2)
	embedder := &stubEmbedder{vectors: map[string][]float32{"what is x": {1, 0}}}
	p := newTestPipeline(testConfig(), backend, embedder, nil)
	ctx := context.Background()

	_, err := p.Ingest(ctx, []QAPair{{Question: "What is X?", Answer: "old"}})
	require.NoError(t, err)

	embedder.vectors["what is x"] = []float32{0, 1}
	_, err = p.Ingest(ctx, []QAPair{{Question: "what is x", Answer: "new"}})
	require.NoError(t, err)

	id := CanonicalID("What is X?")
	require.Len(t, backend.answers, 1)
	require.Equal(t, "new", backend.answers[id].AnswerText)
	require.Equal(t, "what is x", backend.answers[id].QuestionText)
	require.Equal(t, []float32{0, 1}, backend.vectors[id])
}

func TestIngestDuplicatesLastOccurrenceWins(t *testing.T) {
	backend := newFakeBackend(2)
	p := newTestPipeline(testConfig(), backend, &stubEmbedder{vectors: threeVectors()}, nil)

	report, err := p.Ingest(context.Background(), []QAPair{
		{Question: "One", Answer: "first"},
		{Question: "two", Answer: "2"},
		{Question: "one?", Answer: "second"},
	})
	require.NoError(t, err)
	require.Equal(t, IngestSuccess, report.Status)
	require.Equal(t, 2, report.Loaded)
	require.Equal(t, 1, report.Duplicates)
	require.Equal(t, RecordDuplicate, report.Records[0].Outcome)
	require.Contains(t, report.Records[0].Reason, "row 3")
	require.Equal(t, "second", backend.answers[CanonicalID("one")].AnswerText)
	require.Equal(t, "Loaded 2 of 3 records, merged 1 duplicates.", report.Summary())
}

func TestIngestSkipsIncompleteRows(t *testing.T) {
	backend := newFakeBackend(2)
	p := newTestPipeline(testConfig(), backend, &stubEmbedder{vectors: threeVectors()}, nil)

	report, err := p.Ingest(context.Background(), []QAPair{
		{Question: "  ", Answer: "orphan answer"},
		{Question: "one", Answer: "1"},
		{Question: "two", Answer: " "},
		{Question: "???", Answer: "punctuation only"},
	})
	require.NoError(t, err)
	require.Equal(t, IngestPartial, report.Status)
	require.Equal(t, 1, report.Loaded)
	require.Equal(t, 3, report.Skipped)

	failures := report.Failures()
	require.Len(t, failures, 3)
	require.Equal(t, 1, failures[0].Row)
	require.Equal(t, "question is empty", failures[0].Reason)
	require.Equal(t, "answer is empty", failures[1].Reason)
	require.Equal(t, "question has no searchable text", failures[2].Reason)
	backend.requireConsistent(t)
}

func TestIngestPartialPolicySkipsEmbeddingFailures(t *testing.T) {
	backend := newFakeBackend(2)
	embedder := &stubEmbedder{embedFn: func(_ context.Context, texts []string) ([][]float32, error) {
		if strings.Contains(texts[0], "bad") {
			return nil, errors.New("provider 500")
		}
		return [][]float32{{1, 0}}, nil
	}}
	p := newTestPipeline(testConfig(), backend, embedder, nil)

	report, err := p.Ingest(context.Background(), []QAPair{
		{Question: "good one", Answer: "a"},
		{Question: "bad one", Answer: "b"},
		{Question: "good two", Answer: "c"},
	})
	require.NoError(t, err)
	require.Equal(t, IngestPartial, report.Status)
	require.Equal(t, 2, report.Loaded)
	require.Equal(t, RecordSkipped, report.Records[1].Outcome)
	require.Equal(t, "embedding unavailable", report.Records[1].Reason)
	require.Len(t, backend.answers, 2)
	backend.requireConsistent(t)
}

func TestIngestStrictPolicyAbortsBeforeWriting(t *testing.T) {
	cfg := testConfig()
	cfg.IngestPolicy = IngestPolicyStrict
	backend := newFakeBackend(2)
	embedder := &stubEmbedder{embedFn: func(_ context.Context, texts []string) ([][]float32, error) {
		if strings.Contains(texts[0], "bad") {
			return nil, errors.New("provider 500")
		}
		return [][]float32{{1, 0}}, nil
	}}
	p := newTestPipeline(cfg, backend, embedder, nil)

	report, err := p.Ingest(context.Background(), []QAPair{
		{Question: "good one", Answer: "a"},
		{Question: "bad one", Answer: "b"},
		{Question: "good two", Answer: "c"},
	})
	require.NoError(t, err)
	require.Equal(t, IngestFailure, report.Status)
	require.Zero(t, report.Loaded)
	require.Equal(t, 3, report.Skipped)
	require.Empty(t, backend.vectors)
	require.Empty(t, backend.answers)

	acquired, _ := backend.sessions()
	require.Zero(t, acquired)
}

func TestIngestStrictPolicyRollsBackOnWriteFailure(t *testing.T) {
	cfg := testConfig()
	cfg.IngestPolicy = IngestPolicyStrict
	backend := newFakeBackend(2)
	embedder := &stubEmbedder{vectors: threeVectors()}
	p := newTestPipeline(cfg, backend, embedder, nil)
	ctx := context.Background()

	_, err := p.Ingest(ctx, []QAPair{{Question: "one", Answer: "original"}})
	require.NoError(t, err)
	oneID := CanonicalID("one")
	before := backend.answers[oneID]

	embedder.vectors["one"] = []float32{0.5, 0.5}
	backend.upsertErr = func(record AnswerRecord) error {
		if record.QuestionText == "three" {
			return errors.New("disk full")
		}
		return nil
	}

	report, err := p.Ingest(ctx, []QAPair{
		{Question: "one", Answer: "replacement"},
		{Question: "two", Answer: "2"},
		{Question: "three", Answer: "3"},
	})
	require.NoError(t, err)
	require.Equal(t, IngestFailure, report.Status)
	require.Equal(t, "batch rolled back", report.Records[0].Reason)
	require.Equal(t, "batch rolled back", report.Records[1].Reason)
	require.Equal(t, "storage unavailable", report.Records[2].Reason)

	require.Len(t, backend.answers, 1)
	require.Equal(t, before, backend.answers[oneID])
	require.Equal(t, []float32{1, 0}, backend.vectors[oneID])
	backend.requireConsistent(t)
	require.Zero(t, p.locks.size())
}

func TestIngestPartialPolicyRestoresIndexOnAnswerFailure(t *testing.T) {
	backend := newFakeBackend(2)
	embedder := &stubEmbedder{vectors: threeVectors()}
	p := newTestPipeline(testConfig(), backend, embedder, nil)
	ctx := context.Background()

	_, err := p.Ingest(ctx, []QAPair{{Question: "one", Answer: "original"}})
	require.NoError(t, err)

	embedder.vectors["one"] = []float32{0.5, 0.5}
	backend.upsertErr = func(record AnswerRecord) error {
		if record.AnswerText == "replacement" || record.QuestionText == "two" {
			return errors.New("timeout")
		}
		return nil
	}

	report, err := p.Ingest(ctx, []QAPair{
		{Question: "one", Answer: "replacement"},
		{Question: "two", Answer: "2"},
		{Question: "three", Answer: "3"},
	})
	require.NoError(t, err)
	require.Equal(t, IngestPartial, report.Status)
	require.Equal(t, 1, report.Loaded)

	oneID := CanonicalID("one")
	require.Equal(t, []float32{1, 0}, backend.vectors[oneID])
	require.Equal(t, "original", backend.answers[oneID].AnswerText)
	_, indexed := backend.vectors[CanonicalID("two")]
	require.False(t, indexed)
	backend.requireConsistent(t)
}

func TestIngestIndexFailureLeavesNoAnswer(t *testing.T) {
	backend := newFakeBackend(2)
	p := newTestPipeline(testConfig(), backend, &stubEmbedder{vectors: threeVectors()}, nil)
	twoID := CanonicalID("two")
	backend.insertErr = func(id uuid.UUID) error {
		if id == twoID {
			return errors.New("index unavailable")
		}
		return nil
	}

	report, err := p.Ingest(context.Background(), []QAPair{
		{Question: "one", Answer: "1"},
		{Question: "two", Answer: "2"},
	})
	require.NoError(t, err)
	require.Equal(t, IngestPartial, report.Status)
	_, ok := backend.answers[twoID]
	require.False(t, ok)
	backend.requireConsistent(t)
}

func TestIngestEnforcesDimension(t *testing.T) {
	backend := newFakeBackend(2)
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"one": {1, 0},
		"two": {1, 0, 0},
	}}
	p := newTestPipeline(testConfig(), backend, embedder, nil)

	report, err := p.Ingest(context.Background(), []QAPair{
		{Question: "one", Answer: "1"},
		{Question: "two", Answer: "2"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Loaded)
	require.Equal(t, RecordSkipped, report.Records[1].Outcome)
	for _, v := range backend.vectors {
		require.Len(t, v, 2)
	}
	backend.requireConsistent(t)
}

func TestIngestInvalidatesCache(t *testing.T) {
	backend := newFakeBackend(2)
	cache := newStubCache()
	p := newTestPipeline(testConfig(), backend, &stubEmbedder{vectors: threeVectors()}, cache)

	_, err := p.Ingest(context.Background(), []QAPair{{Question: "one", Answer: "1"}})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{CanonicalID("one")}, cache.invalidated)
}

func TestIngestBackendUnavailable(t *testing.T) {
	backend := newFakeBackend(2)
	backend.acquireErr = errors.New("dial tcp: refused")
	p := newTestPipeline(testConfig(), backend, &stubEmbedder{vectors: threeVectors()}, nil)

	_, err := p.Ingest(context.Background(), []QAPair{{Question: "one", Answer: "1"}})
	require.True(t, apperrors.IsCode(err, CodeStoreUnavailable))
}

func TestIngestConcurrentSameQuestionWithFailures(t *testing.T) {
	for _, policy := range []IngestPolicy{IngestPolicyPartial, IngestPolicyStrict} {
		t.Run(string(policy), func(t *testing.T) {
			cfg := testConfig()
			cfg.IngestPolicy = policy
			backend := newFakeBackend(2)
			backend.upsertErr = func(record AnswerRecord) error {
				if strings.HasPrefix(record.AnswerText, "bad") {
					return errors.New("connection reset")
				}
				return nil
			}
			p := newTestPipeline(cfg, backend, &stubEmbedder{vectors: threeVectors()}, newStubCache())
			ctx := context.Background()
			oneID := CanonicalID("one")

			for round := 0; round < 10; round++ {
				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					answer := fmt.Sprintf("good-%d-%d", round, i)
					if i%2 == 1 {
						answer = fmt.Sprintf("bad-%d-%d", round, i)
					}
					wg.Add(1)
					go func() {
						defer wg.Done()
						if _, err := p.Ingest(ctx, []QAPair{{Question: "one", Answer: answer}}); err != nil {
							t.Errorf("ingest %s: %v", answer, err)
						}
					}()
				}
				wg.Wait()

				backend.requireConsistent(t)
				backend.mu.Lock()
				rec, ok := backend.answers[oneID]
				vector := backend.vectors[oneID]
				backend.mu.Unlock()
				require.True(t, ok)
				require.True(t, strings.HasPrefix(rec.AnswerText, fmt.Sprintf("good-%d-", round)), rec.AnswerText)
				require.Equal(t, []float32{1, 0}, vector)
			}
			require.Zero(t, p.locks.size())
		})
	}
}

func TestIngestTransactionalSessionRollsBackBothWrites(t *testing.T) {
	backend := newFakeBackend(2)
	backend.transactional = true
	embedder := &stubEmbedder{vectors: threeVectors()}
	p := newTestPipeline(testConfig(), backend, embedder, nil)
	ctx := context.Background()

	_, err := p.Ingest(ctx, []QAPair{{Question: "one", Answer: "original"}})
	require.NoError(t, err)
	commits, rollbacks := backend.txCounts()
	require.Equal(t, 1, commits)
	require.Zero(t, rollbacks)

	embedder.vectors["one"] = []float32{0.5, 0.5}
	backend.upsertErr = func(record AnswerRecord) error {
		if record.AnswerText == "replacement" || record.QuestionText == "two" {
			return errors.New("serialization failure")
		}
		return nil
	}
	report, err := p.Ingest(ctx, []QAPair{
		{Question: "one", Answer: "replacement"},
		{Question: "two", Answer: "2"},
		{Question: "three", Answer: "3"},
	})
	require.NoError(t, err)
	require.Equal(t, IngestPartial, report.Status)
	require.Equal(t, 1, report.Loaded)

	commits, rollbacks = backend.txCounts()
	require.Equal(t, 2, commits)
	require.Equal(t, 2, rollbacks)
	oneID := CanonicalID("one")
	require.Equal(t, []float32{1, 0}, backend.vectors[oneID])
	require.Equal(t, "original", backend.answers[oneID].AnswerText)
	_, indexed := backend.vectors[CanonicalID("two")]
	require.False(t, indexed)
	backend.requireConsistent(t)
	acquired, released := backend.sessions()
	require.Equal(t, acquired, released)
}

func TestRemoveUsesTransaction(t *testing.T) {
	backend := newFakeBackend(2)
	backend.transactional = true
	cache := newStubCache()
	p := newTestPipeline(testConfig(), backend, &stubEmbedder{vectors: threeVectors()}, cache)
	ctx := context.Background()

	_, err := p.Ingest(ctx, []QAPair{{Question: "one", Answer: "1"}})
	require.NoError(t, err)
	sess, err := backend.Acquire(ctx)
	require.NoError(t, err)
	defer sess.Release()

	removed, err := p.remove(ctx, sess, CanonicalID("one"))
	require.NoError(t, err)
	require.True(t, removed)
	commits, rollbacks := backend.txCounts()
	require.Equal(t, 2, commits)
	require.Zero(t, rollbacks)
	require.Empty(t, backend.answers)
	require.Empty(t, backend.vectors)
	require.Len(t, cache.invalidated, 2)

	removed, err = p.remove(ctx, sess, CanonicalID("one"))
	require.NoError(t, err)
	require.False(t, removed)
}
