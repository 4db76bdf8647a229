package faq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/yanqian/semantic-faq/pkg/errors"
	"github.com/yanqian/semantic-faq/pkg/metrics"
)

const rollbackTimeout = 10 * time.Second

// Pipeline loads question/answer pairs into the similarity index and the
// answer store, keeping both stores consistent per record.
type Pipeline struct {
	cfg      Config
	backend  Backend
	embedder Embedder
	cache    AnswerCache
	locks    *idLocks
	metrics  *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time

	// generation is bumped after every committed change, before the cache
	// entry is dropped. Readers compare it to decide whether a fill is stale.
	generation atomic.Uint64
}

// NewPipeline constructs the ingestion pipeline. cache and recorder may be nil.
func NewPipeline(cfg Config, backend Backend, embedder Embedder, cache AnswerCache, recorder *metrics.Recorder, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		backend:  backend,
		embedder: embedder,
		cache:    cache,
		locks:    newIDLocks(),
		metrics:  recorder,
		logger:   logger.With("component", "faq.ingest"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type pendingRecord struct {
	row      int
	id       uuid.UUID
	question string
	answer   string
	vector   []float32
}

// snapshot is the state of one id before a write, used to undo it.
type snapshot struct {
	id        uuid.UUID
	vector    []float32
	hadVector bool
	answer    AnswerRecord
	hadAnswer bool
}

// Ingest processes pairs in input order and reports one result per row.
// Per-record failures are aggregated into the report; only an empty
// dataset or an unreachable store backend is returned as an error.
func (p *Pipeline) Ingest(ctx context.Context, pairs []QAPair) (IngestReport, error) {
	if len(pairs) == 0 {
		return IngestReport{}, apperrors.Wrap(CodeInvalidDataset, "dataset contains no records", ErrEmptyDataset)
	}

	results, pending := p.prepare(pairs)
	strict := p.cfg.policy() == IngestPolicyStrict

	aborted := p.embedPending(ctx, pending, results, strict)
	if aborted {
		for _, rec := range pending {
			if results[rec.row].Outcome == "" {
				skip(&results[rec.row], "batch aborted")
			}
		}
		return p.finish(results), nil
	}

	sess, err := p.backend.Acquire(ctx)
	if err != nil {
		return IngestReport{}, apperrors.Wrap(CodeStoreUnavailable, "failed to acquire store session", err)
	}
	defer sess.Release()

	if strict {
		p.writeStrict(ctx, sess, pending, results)
	} else {
		p.writePartial(ctx, sess, pending, results)
	}
	return p.finish(results), nil
}

func (p *Pipeline) prepare(pairs []QAPair) ([]RecordResult, []*pendingRecord) {
	results := make([]RecordResult, len(pairs))
	latest := make(map[uuid.UUID]int, len(pairs))
	for i, pair := range pairs {
		question := strings.TrimSpace(pair.Question)
		answer := strings.TrimSpace(pair.Answer)
		results[i] = RecordResult{Row: i + 1, Question: question}
		switch {
		case question == "":
			skip(&results[i], "question is empty")
			continue
		case answer == "":
			skip(&results[i], "answer is empty")
			continue
		case normalizeQuestion(question) == "":
			skip(&results[i], "question has no searchable text")
			continue
		}
		id := CanonicalID(question)
		results[i].ID = id
		if prev, ok := latest[id]; ok {
			results[prev].Outcome = RecordDuplicate
			results[prev].Reason = fmt.Sprintf("superseded by row %d", i+1)
		}
		latest[id] = i
	}

	pending := make([]*pendingRecord, 0, len(latest))
	for i, pair := range pairs {
		if results[i].Outcome != "" {
			continue
		}
		pending = append(pending, &pendingRecord{
			row:      i,
			id:       results[i].ID,
			question: results[i].Question,
			answer:   strings.TrimSpace(pair.Answer),
		})
	}
	return results, pending
}

// embedPending fills in vectors with bounded concurrency. It reports true
// when a strict batch must be abandoned.
func (p *Pipeline) embedPending(ctx context.Context, pending []*pendingRecord, results []RecordResult, strict bool) bool {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.embedConcurrency())
	failures := make([]error, len(pending))
	for i, rec := range pending {
		i, rec := i, rec
		g.Go(func() error {
			if strict && gctx.Err() != nil {
				return gctx.Err()
			}
			started := time.Now()
			vector, err := embedText(gctx, p.embedder, p.cfg.EmbedTimeout, p.cfg.Dimension, rec.question)
			p.metrics.ObserveCall("embedder", "embed", started)
			if err != nil {
				failures[i] = err
				if strict {
					return err
				}
				return nil
			}
			rec.vector = vector
			return nil
		})
	}
	batchErr := g.Wait()

	for i, rec := range pending {
		err := failures[i]
		if err == nil {
			continue
		}
		if strict && errors.Is(err, context.Canceled) && !errors.Is(batchErr, context.Canceled) {
			continue
		}
		if errors.Is(err, ErrDimensionMismatch) {
			p.logger.Error("embedding dimension mismatch", "row", rec.row+1, "error", err)
		} else {
			p.logger.Warn("embedding failed, skipping record", "row", rec.row+1, "error", err)
		}
		skip(&results[rec.row], "embedding unavailable")
	}
	return strict && batchErr != nil
}

func (p *Pipeline) writePartial(ctx context.Context, sess Session, pending []*pendingRecord, results []RecordResult) {
	for _, rec := range pending {
		if rec.vector == nil {
			continue
		}
		unlock := p.locks.Lock(rec.id)
		_, err := p.writeRecord(ctx, sess, rec)
		unlock()
		if err != nil {
			p.logger.Warn("store write failed, skipping record", "row", rec.row+1, "id", rec.id, "error", err)
			skip(&results[rec.row], "storage unavailable")
			continue
		}
		results[rec.row].Outcome = RecordLoaded
	}
}

// writeStrict holds every id lock of the batch (acquired in id order) so a
// rollback never clobbers a concurrent writer.
func (p *Pipeline) writeStrict(ctx context.Context, sess Session, pending []*pendingRecord, results []RecordResult) {
	ids := make([]uuid.UUID, 0, len(pending))
	for _, rec := range pending {
		ids = append(ids, rec.id)
	}
	sort.Slice(ids, func(i, j int) bool { return compareIDs(ids[i], ids[j]) < 0 })
	for _, id := range ids {
		unlock := p.locks.Lock(id)
		defer unlock()
	}

	written := make([]snapshot, 0, len(pending))
	for i, rec := range pending {
		snap, err := p.writeRecord(ctx, sess, rec)
		if err == nil {
			written = append(written, snap)
			results[rec.row].Outcome = RecordLoaded
			continue
		}
		p.logger.Error("store write failed, rolling back batch", "row", rec.row+1, "id", rec.id, "error", err)
		skip(&results[rec.row], "storage unavailable")
		for j := len(written) - 1; j >= 0; j-- {
			p.restore(ctx, sess, written[j])
		}
		for _, done := range pending[:i] {
			skip(&results[done.row], "batch rolled back")
		}
		for _, rest := range pending[i+1:] {
			skip(&results[rest.row], "batch aborted")
		}
		return
	}
}

// writeRecord performs the dual write for one id. Transactional sessions
// commit both rows together; otherwise a failed answer write restores the
// index to its previous state before returning.
func (p *Pipeline) writeRecord(ctx context.Context, sess Session, rec *pendingRecord) (snapshot, error) {
	var (
		snap snapshot
		err  error
	)
	if txs, ok := sess.(TxSession); ok {
		txCtx, cancel := withTimeout(ctx, p.cfg.txTimeout())
		err = txs.WithinTx(txCtx, func(tx Session) error {
			var writeErr error
			snap, writeErr = p.writeBoth(txCtx, tx, rec, false)
			return writeErr
		})
		cancel()
	} else {
		snap, err = p.writeBoth(ctx, sess, rec, true)
	}
	if err != nil {
		return snapshot{}, err
	}
	p.invalidate(ctx, rec.id)
	return snap, nil
}

func (p *Pipeline) writeBoth(ctx context.Context, sess Session, rec *pendingRecord, compensate bool) (snapshot, error) {
	snap, err := p.snapshot(ctx, sess, rec.id)
	if err != nil {
		return snapshot{}, err
	}

	insertCtx, cancel := withTimeout(ctx, p.cfg.StoreTimeout)
	started := time.Now()
	err = sess.Index().Insert(insertCtx, rec.id, rec.vector)
	p.metrics.ObserveCall("index", "insert", started)
	cancel()
	if err != nil {
		if compensate {
			p.restoreIndex(ctx, sess, snap)
		}
		return snapshot{}, fmt.Errorf("index insert: %w", err)
	}

	record := AnswerRecord{
		ID:           rec.id,
		QuestionText: rec.question,
		AnswerText:   rec.answer,
		UpdatedAt:    p.now(),
	}
	upsertCtx, cancel := withTimeout(ctx, p.cfg.StoreTimeout)
	started = time.Now()
	err = sess.Answers().Upsert(upsertCtx, record)
	p.metrics.ObserveCall("answers", "upsert", started)
	cancel()
	if err != nil {
		if compensate {
			p.restoreIndex(ctx, sess, snap)
		}
		return snapshot{}, fmt.Errorf("answer upsert: %w", err)
	}
	return snap, nil
}

func (p *Pipeline) snapshot(ctx context.Context, sess Session, id uuid.UUID) (snapshot, error) {
	snap := snapshot{id: id}
	callCtx, cancel := withTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()
	vector, found, err := sess.Index().Lookup(callCtx, id)
	if err != nil {
		return snapshot{}, fmt.Errorf("index lookup: %w", err)
	}
	snap.vector, snap.hadVector = vector, found
	answer, found, err := sess.Answers().Get(callCtx, id)
	if err != nil {
		return snapshot{}, fmt.Errorf("answer lookup: %w", err)
	}
	snap.answer, snap.hadAnswer = answer, found
	return snap, nil
}

// restore puts both stores back to the snapshot state.
func (p *Pipeline) restore(ctx context.Context, sess Session, snap snapshot) {
	p.restoreIndex(ctx, sess, snap)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	var err error
	if snap.hadAnswer {
		err = sess.Answers().Upsert(callCtx, snap.answer)
	} else {
		err = sess.Answers().Delete(callCtx, snap.id)
	}
	if err != nil {
		p.logger.Error("answer rollback failed, stores may be inconsistent", "id", snap.id, "error", err)
	}
	p.invalidate(ctx, snap.id)
}

func (p *Pipeline) restoreIndex(ctx context.Context, sess Session, snap snapshot) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	var err error
	if snap.hadVector {
		err = sess.Index().Insert(callCtx, snap.id, snap.vector)
	} else {
		err = sess.Index().Delete(callCtx, snap.id)
	}
	if err != nil {
		p.logger.Error("index rollback failed, stores may be inconsistent", "id", snap.id, "error", err)
	}
}

// invalidate marks id as changed and drops its cache entry. Callers hold
// the id lock.
func (p *Pipeline) invalidate(ctx context.Context, id uuid.UUID) {
	p.generation.Add(1)
	if p.cache == nil {
		return
	}
	callCtx, cancel := withTimeout(context.WithoutCancel(ctx), p.cfg.cacheTimeout())
	defer cancel()
	if err := p.cache.Invalidate(callCtx, id); err != nil {
		p.logger.Warn("answer cache invalidation failed", "id", id, "error", err)
	}
}

// remove deletes a canonical question from both stores as one unit.
func (p *Pipeline) remove(ctx context.Context, sess Session, id uuid.UUID) (bool, error) {
	unlock := p.locks.Lock(id)
	defer unlock()

	var (
		removed bool
		err     error
	)
	if txs, ok := sess.(TxSession); ok {
		txCtx, cancel := withTimeout(ctx, p.cfg.txTimeout())
		err = txs.WithinTx(txCtx, func(tx Session) error {
			var deleteErr error
			removed, deleteErr = p.deleteBoth(txCtx, tx, id, false)
			return deleteErr
		})
		cancel()
	} else {
		removed, err = p.deleteBoth(ctx, sess, id, true)
	}
	if err != nil || !removed {
		return false, err
	}
	p.invalidate(ctx, id)
	return true, nil
}

func (p *Pipeline) deleteBoth(ctx context.Context, sess Session, id uuid.UUID, compensate bool) (bool, error) {
	snap, err := p.snapshot(ctx, sess, id)
	if err != nil {
		return false, err
	}
	if !snap.hadVector && !snap.hadAnswer {
		return false, nil
	}

	callCtx, cancel := withTimeout(ctx, p.cfg.StoreTimeout)
	err = sess.Answers().Delete(callCtx, id)
	cancel()
	if err != nil {
		return false, fmt.Errorf("answer delete: %w", err)
	}
	callCtx, cancel = withTimeout(ctx, p.cfg.StoreTimeout)
	err = sess.Index().Delete(callCtx, id)
	cancel()
	if err != nil {
		if compensate {
			p.restore(ctx, sess, snap)
		}
		return false, fmt.Errorf("index delete: %w", err)
	}
	return true, nil
}

func (p *Pipeline) finish(results []RecordResult) IngestReport {
	report := IngestReport{Records: results}
	for _, rec := range results {
		switch rec.Outcome {
		case RecordLoaded:
			report.Loaded++
		case RecordSkipped:
			report.Skipped++
		case RecordDuplicate:
			report.Duplicates++
		}
		p.metrics.IngestRecord(string(rec.Outcome))
	}
	switch {
	case report.Loaded == 0:
		report.Status = IngestFailure
	case report.Skipped == 0:
		report.Status = IngestSuccess
	default:
		report.Status = IngestPartial
	}
	p.metrics.IngestBatch(string(report.Status))
	p.logger.Info("ingestion finished", "status", report.Status, "loaded", report.Loaded, "skipped", report.Skipped, "duplicates", report.Duplicates)
	return report
}

func skip(result *RecordResult, reason string) {
	result.Outcome = RecordSkipped
	result.Reason = reason
}
