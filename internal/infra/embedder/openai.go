package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/yanqian/semantic-faq/internal/domain/faq"
)

// OpenAIConfig configures any OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAIEmbedder calls the embeddings API through go-openai.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	logger     *slog.Logger
}

// NewOpenAIEmbedder constructs the embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig, logger *slog.Logger) *OpenAIEmbedder {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      strings.TrimSpace(cfg.Model),
		dimensions: cfg.Dimensions,
		logger:     logger.With("component", "faq.embedder.openai"),
	}
}

// Embed requests one vector per text, returned in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		e.logger.Warn("embedding result count mismatch", "expected", len(texts), "got", len(resp.Data))
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, item := range resp.Data {
		pos := item.Index
		if pos < 0 || pos >= len(vectors) || vectors[pos] != nil {
			pos = i
		}
		vectors[pos] = item.Embedding
	}
	return vectors, nil
}

var _ faq.Embedder = (*OpenAIEmbedder)(nil)
