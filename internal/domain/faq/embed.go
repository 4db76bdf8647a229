package faq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var errEmptyEmbedding = errors.New("embedding response empty")

// embedText asks the provider for a single vector, bounded by timeout, and
// checks it against the configured dimension.
func embedText(ctx context.Context, embedder Embedder, timeout time.Duration, dim int, text string) ([]float32, error) {
	input := strings.TrimSpace(text)
	if input == "" {
		return nil, errEmptyEmbedding
	}
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	vectors, err := embedder.Embed(callCtx, []string{input})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errEmptyEmbedding
	}
	if dim > 0 && len(vectors[0]) != dim {
		return nil, fmt.Errorf("%w: provider returned %d values, index expects %d", ErrDimensionMismatch, len(vectors[0]), dim)
	}
	vector := make([]float32, len(vectors[0]))
	copy(vector, vectors[0])
	return vector, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
