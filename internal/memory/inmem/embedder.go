package inmem

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// DefaultDimensions is the vector size of a HashEmbedder built with zero dimensions.
const DefaultDimensions = 256

// HashEmbedder produces feature-hashed bag-of-words vectors. Texts sharing
// words score a positive cosine similarity; identical texts score 1.
// It needs no network and is deterministic across processes.
type HashEmbedder struct {
	Dimensions int
}

// NewHashEmbedder returns an embedder producing vectors of dims entries.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{Dimensions: dims}
}

// Embed implements memory.Embedder. Text without words yields the zero vector.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dims := e.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	vec := make([]float32, dims)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := xxhash.Sum64String(w)
		idx := h % uint64(dims)
		// The top bit picks the sign so collisions tend to cancel out.
		if h>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
