package faqrepo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/yanqian/semantic-faq/internal/domain/faq"
)

func checkDimension(dim int, vector []float32) error {
	if len(vector) != dim {
		return fmt.Errorf("%w: got %d values, want %d", faq.ErrDimensionMismatch, len(vector), dim)
	}
	return nil
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i] - b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// nearest sorts candidates by distance, then id, and keeps the first k.
func nearest(candidates []faq.Neighbor, k int) []faq.Neighbor {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return bytes.Compare(candidates[i].ID[:], candidates[j].ID[:]) < 0
	})
	if k >= 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// encodeVector packs a vector as little endian float32s for blob columns.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector blob has %d bytes, not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

func cloneVector(v []float32) []float32 {
	return append([]float32(nil), v...)
}

