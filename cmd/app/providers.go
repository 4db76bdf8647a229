package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/semantic-faq/internal/domain/faq"
	"github.com/yanqian/semantic-faq/internal/infra/config"
	"github.com/yanqian/semantic-faq/internal/infra/dataset"
	"github.com/yanqian/semantic-faq/internal/infra/embedder"
	"github.com/yanqian/semantic-faq/internal/infra/faqrepo"
	"github.com/yanqian/semantic-faq/internal/infra/faqstore"
	"github.com/yanqian/semantic-faq/internal/infra/storage"
	"github.com/yanqian/semantic-faq/pkg/metrics"
)

func provideFAQConfig(cfg *config.Config) faq.Config {
	return faq.Config{
		Dimension:        cfg.Embedding.Dimension,
		MaxDistance:      cfg.FAQ.MaxDistance,
		TopK:             cfg.FAQ.TopK,
		IngestPolicy:     faq.IngestPolicy(cfg.FAQ.IngestPolicy),
		EmbedConcurrency: cfg.Embedding.Concurrency,
		EmbedTimeout:     cfg.Embedding.Timeout,
		StoreTimeout:     cfg.Storage.Timeout,
		CacheTTL:         cfg.Cache.TTL,
	}
}

func provideRecorder() *metrics.Recorder {
	return metrics.NewRecorder()
}

// provideBackend opens the configured vector and answer store. Unlike the
// cache, a broken store is fatal: falling back to memory would silently drop
// every loaded question on restart.
func provideBackend(cfg *config.Config, logger *slog.Logger) (faq.Backend, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dim := cfg.Embedding.Dimension
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		poolConfig, err := pgxpool.ParseConfig(strings.TrimSpace(cfg.Storage.Postgres.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		if cfg.Storage.Postgres.MaxConns > 0 {
			poolConfig.MaxConns = cfg.Storage.Postgres.MaxConns
		}
		if cfg.Storage.Postgres.MinConns > 0 {
			poolConfig.MinConns = cfg.Storage.Postgres.MinConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("create postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		backend := faqrepo.NewPostgresBackend(pool, dim)
		if err := backend.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("faq postgres backend enabled", "dimension", dim)
		return backend, pool.Close, nil
	case config.DriverSQLite:
		db, err := faqrepo.OpenSQLite(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		backend := faqrepo.NewSQLiteBackend(db, dim)
		if err := backend.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("faq sqlite backend enabled", "path", cfg.Storage.SQLite.Path, "dimension", dim)
		return backend, func() { _ = db.Close() }, nil
	default:
		logger.Info("faq memory backend enabled, data is not persisted", "dimension", dim)
		return faqrepo.NewMemoryBackend(dim), func() {}, nil
	}
}

func provideEmbedder(cfg *config.Config, logger *slog.Logger) faq.Embedder {
	if cfg.Embedding.Provider == config.ProviderDeterministic {
		logger.Warn("using deterministic embedder, matches are lexical only")
		return embedder.NewDeterministicEmbedder(cfg.Embedding.Dimension)
	}
	return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimension,
	}, logger)
}

// provideAnswerCache returns nil when caching is disabled so every lookup
// reads the answer store. An unreachable valkey degrades to an in-process
// cache rather than failing startup.
func provideAnswerCache(cfg *config.Config, logger *slog.Logger) (faq.AnswerCache, func()) {
	if !cfg.Cache.Enabled {
		logger.Info("faq answer cache disabled")
		return nil, func() {}
	}
	opt, err := buildValkeyOptions(cfg)
	if err != nil {
		logger.Error("invalid valkey configuration, falling back to memory cache", "error", err)
		return faqstore.NewMemoryStore(), func() {}
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		logger.Error("failed to create valkey client, falling back to memory cache", "error", err)
		return faqstore.NewMemoryStore(), func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		logger.Error("valkey ping failed, falling back to memory cache", "error", err)
		client.Close()
		return faqstore.NewMemoryStore(), func() {}
	}
	logger.Info("faq valkey cache enabled", "addr", cfg.Cache.Addr)
	return faqstore.NewValkeyStore(client, cfg.Cache.Prefix), client.Close
}

func buildValkeyOptions(cfg *config.Config) (valkey.ClientOption, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	if strings.Contains(cfg.Cache.Addr, "://") {
		opt, err = valkey.ParseURL(cfg.Cache.Addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{cfg.Cache.Addr}}
	}
	if err != nil {
		return valkey.ClientOption{}, err
	}
	return opt, nil
}

func provideUploadArchive(cfg *config.Config, logger *slog.Logger) faq.UploadArchive {
	var mirror storage.ObjectStore
	if r2 := cfg.Upload.R2; r2.Enabled {
		store, err := storage.NewR2Storage(r2.Endpoint, r2.AccessKey, r2.SecretKey, r2.Bucket, r2.Region, logger)
		if err != nil {
			logger.Error("r2 mirror disabled", "error", err)
		} else {
			mirror = store
		}
	}
	return storage.NewLocalArchive(cfg.Upload.Dir, mirror, logger)
}

func provideDatasetParser() faq.DatasetParser {
	return dataset.NewCSVParser()
}
