package faq

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/yanqian/semantic-faq/pkg/errors"
	"github.com/yanqian/semantic-faq/pkg/metrics"
)

// Service exposes FAQ ingestion and semantic matching.
type Service interface {
	// Load persists an uploaded dataset, parses it and ingests its rows.
	Load(ctx context.Context, filename string, data []byte) (IngestReport, error)
	// Ingest loads already parsed pairs.
	Ingest(ctx context.Context, pairs []QAPair) (IngestReport, error)
	// BestMatch resolves the single closest canonical question.
	BestMatch(ctx context.Context, question string) (Resolution, error)
	// Ranked resolves up to TopK canonical questions.
	Ranked(ctx context.Context, question string) (Resolution, error)
	// AnswerFor looks up the stored answer of a canonical question by its text.
	AnswerFor(ctx context.Context, question string) (AnswerRecord, bool, error)
	// Delete removes a canonical question from both stores.
	Delete(ctx context.Context, question string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}

type service struct {
	cfg      Config
	backend  Backend
	embedder Embedder
	cache    AnswerCache
	archive  UploadArchive
	parser   DatasetParser
	pipeline *Pipeline
	metrics  *metrics.Recorder
	logger   *slog.Logger
	inflight singleflight.Group
}

// NewService wires up the FAQ domain.
func NewService(cfg Config, backend Backend, embedder Embedder, cache AnswerCache, archive UploadArchive, parser DatasetParser, recorder *metrics.Recorder, logger *slog.Logger) Service {
	return &service{
		cfg:      cfg,
		backend:  backend,
		embedder: embedder,
		cache:    cache,
		archive:  archive,
		parser:   parser,
		pipeline: NewPipeline(cfg, backend, embedder, cache, recorder, logger),
		metrics:  recorder,
		logger:   logger.With("component", "faq.service"),
	}
}

func (s *service) Load(ctx context.Context, filename string, data []byte) (IngestReport, error) {
	path, err := s.archive.Save(ctx, filename, data)
	if err != nil {
		return IngestReport{}, apperrors.Wrap(CodeStorageError, "failed to persist upload", err)
	}
	s.logger.Info("upload persisted", "path", path, "bytes", len(data))

	pairs, err := s.parser.Parse(filename, data)
	if err != nil {
		return IngestReport{}, apperrors.Wrap(CodeInvalidDataset, "failed to parse dataset", err)
	}
	return s.pipeline.Ingest(ctx, pairs)
}

func (s *service) Ingest(ctx context.Context, pairs []QAPair) (IngestReport, error) {
	return s.pipeline.Ingest(ctx, pairs)
}

func (s *service) BestMatch(ctx context.Context, question string) (Resolution, error) {
	return s.resolve(ctx, "best", question, 1)
}

func (s *service) Ranked(ctx context.Context, question string) (Resolution, error) {
	return s.resolve(ctx, "ranked", question, s.cfg.topK())
}

func (s *service) resolve(ctx context.Context, mode, question string, k int) (Resolution, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Resolution{}, apperrors.Wrap(CodeInvalidInput, "question cannot be empty", nil)
	}

	sess, err := s.backend.Acquire(ctx)
	if err != nil {
		s.metrics.QueryOutcome(mode, "error")
		return Resolution{}, apperrors.Wrap(CodeStoreUnavailable, "failed to acquire store session", err)
	}
	defer sess.Release()

	vector, err := s.embedQuestion(ctx, question)
	if err != nil {
		s.metrics.QueryOutcome(mode, "error")
		if errors.Is(err, ErrDimensionMismatch) {
			s.logger.Error("embedding dimension mismatch", "error", err)
			return Resolution{}, apperrors.Wrap(CodeDimensionMismatch, "embedding has unexpected dimension", err)
		}
		return Resolution{}, apperrors.Wrap(CodeEmbeddingUnavailable, "embedding failed", err)
	}

	queryCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	started := time.Now()
	neighbors, err := sess.Index().Query(queryCtx, vector, k)
	s.metrics.ObserveCall("index", "query", started)
	cancel()
	if err != nil {
		s.metrics.QueryOutcome(mode, "error")
		if errors.Is(err, ErrDimensionMismatch) {
			s.logger.Error("index rejected query vector", "error", err)
			return Resolution{}, apperrors.Wrap(CodeDimensionMismatch, "query vector has unexpected dimension", err)
		}
		return Resolution{}, apperrors.Wrap(CodeStoreUnavailable, "similarity lookup failed", err)
	}
	sortNeighbors(neighbors)

	matches := make([]Match, 0, len(neighbors))
	for _, n := range neighbors {
		if s.cfg.MaxDistance > 0 && n.Distance > s.cfg.MaxDistance {
			continue
		}
		record, found, err := s.lookupAnswer(ctx, sess, n.ID)
		if err != nil {
			s.metrics.QueryOutcome(mode, "error")
			return Resolution{}, apperrors.Wrap(CodeStoreUnavailable, "answer lookup failed", err)
		}
		if !found {
			s.metrics.ConsistencyViolation()
			s.logger.Error("consistency violation: indexed question has no answer row", "id", n.ID, "distance", n.Distance)
			continue
		}
		matches = append(matches, Match{
			ID:           n.ID,
			QuestionText: record.QuestionText,
			AnswerText:   record.AnswerText,
			Distance:     n.Distance,
			Score:        similarity(n.Distance),
		})
	}

	resolution := Resolution{Question: question, Outcome: OutcomeMatched, Matches: matches}
	if len(matches) == 0 {
		resolution.Outcome = OutcomeNoMatch
		resolution.Matches = nil
	}
	s.metrics.QueryOutcome(mode, string(resolution.Outcome))
	return resolution, nil
}

func (s *service) AnswerFor(ctx context.Context, question string) (AnswerRecord, bool, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return AnswerRecord{}, false, apperrors.Wrap(CodeInvalidInput, "question cannot be empty", nil)
	}
	sess, err := s.backend.Acquire(ctx)
	if err != nil {
		return AnswerRecord{}, false, apperrors.Wrap(CodeStoreUnavailable, "failed to acquire store session", err)
	}
	defer sess.Release()

	record, found, err := s.lookupAnswer(ctx, sess, CanonicalID(question))
	if err != nil {
		return AnswerRecord{}, false, apperrors.Wrap(CodeStoreUnavailable, "answer lookup failed", err)
	}
	return record, found, nil
}

func (s *service) Delete(ctx context.Context, question string) (bool, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return false, apperrors.Wrap(CodeInvalidInput, "question cannot be empty", nil)
	}
	sess, err := s.backend.Acquire(ctx)
	if err != nil {
		return false, apperrors.Wrap(CodeStoreUnavailable, "failed to acquire store session", err)
	}
	defer sess.Release()

	id := CanonicalID(question)
	removed, err := s.pipeline.remove(ctx, sess, id)
	if err != nil {
		return false, apperrors.Wrap(CodeStoreUnavailable, "delete failed", err)
	}
	if removed {
		s.logger.Info("canonical question removed", "id", id)
	}
	return removed, nil
}

func (s *service) Stats(ctx context.Context) (Stats, error) {
	sess, err := s.backend.Acquire(ctx)
	if err != nil {
		return Stats{}, apperrors.Wrap(CodeStoreUnavailable, "failed to acquire store session", err)
	}
	defer sess.Release()

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	count, err := sess.Answers().Count(callCtx)
	if err != nil {
		return Stats{}, apperrors.Wrap(CodeStoreUnavailable, "count failed", err)
	}
	return Stats{Questions: count}, nil
}

func (s *service) Ping(ctx context.Context) error {
	sess, err := s.backend.Acquire(ctx)
	if err != nil {
		return apperrors.Wrap(CodeStoreUnavailable, "failed to acquire store session", err)
	}
	sess.Release()
	return nil
}

// embedQuestion collapses identical concurrent questions into one provider call.
func (s *service) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	value, err, _ := s.inflight.Do(question, func() (any, error) {
		started := time.Now()
		defer s.metrics.ObserveCall("embedder", "embed", started)
		return embedText(ctx, s.embedder, s.cfg.EmbedTimeout, s.cfg.Dimension, question)
	})
	if err != nil {
		return nil, err
	}
	return value.([]float32), nil
}

func (s *service) lookupAnswer(ctx context.Context, sess Session, id uuid.UUID) (AnswerRecord, bool, error) {
	if s.cache != nil {
		cacheCtx, cancel := withTimeout(ctx, s.cfg.cacheTimeout())
		cached, ok, err := s.cache.GetAnswer(cacheCtx, id)
		cancel()
		if err != nil {
			s.logger.Warn("answer cache lookup failed", "id", id, "error", err)
		} else {
			s.metrics.CacheLookup(ok)
			if ok {
				return cached, true, nil
			}
		}
	}

	generation := s.pipeline.generation.Load()
	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	started := time.Now()
	record, found, err := sess.Answers().Get(callCtx, id)
	s.metrics.ObserveCall("answers", "get", started)
	cancel()
	if err != nil || !found {
		return AnswerRecord{}, false, err
	}

	if s.cache != nil {
		s.fillCache(ctx, record, generation)
	}
	return record, true, nil
}

// fillCache stores record unless a write committed since it was read. The
// id lock keeps the check and the save atomic with respect to writers,
// which bump the generation and invalidate while holding it.
func (s *service) fillCache(ctx context.Context, record AnswerRecord, generation uint64) {
	unlock := s.pipeline.locks.Lock(record.ID)
	defer unlock()
	if s.pipeline.generation.Load() != generation {
		return
	}
	callCtx, cancel := withTimeout(ctx, s.cfg.cacheTimeout())
	defer cancel()
	if err := s.cache.SaveAnswer(callCtx, record, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("answer cache save failed", "id", record.ID, "error", err)
	}
}

// sortNeighbors orders by ascending distance with a stable id tie-break.
func sortNeighbors(neighbors []Neighbor) {
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return compareIDs(neighbors[i].ID, neighbors[j].ID) < 0
	})
}

func compareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// similarity maps an L2 distance onto (0, 1], 1 being identical.
func similarity(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}
