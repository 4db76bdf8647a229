package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/yanqian/semantic-faq/internal/domain/faq"
)

// DeterministicEmbedder avoids network calls by hashing words into a
// fixed-size bag-of-words vector. Texts sharing words land close together.
type DeterministicEmbedder struct {
	dim int
}

// NewDeterministicEmbedder constructs the embedder.
func NewDeterministicEmbedder(dim int) *DeterministicEmbedder {
	if dim <= 0 {
		dim = 32
	}
	return &DeterministicEmbedder{dim: dim}
}

// Embed converts each text into a unit-length vector.
func (e *DeterministicEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector := make([]float32, e.dim)
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, word := range words {
			hash := fnv.New64a()
			_, _ = hash.Write([]byte(word))
			sum := hash.Sum64()
			weight := float32(1)
			if sum&(1<<63) != 0 {
				weight = -1
			}
			vector[sum%uint64(e.dim)] += weight
		}
		normalize(vector)
		vectors[i] = vector
	}
	return vectors, nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

var _ faq.Embedder = (*DeterministicEmbedder)(nil)
