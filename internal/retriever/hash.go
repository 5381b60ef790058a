package retriever

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic bag-of-words embedder that needs no model
// server. Each word is hashed into one of a fixed number of buckets.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a HashEmbedder with dims buckets.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 512
	}
	return &HashEmbedder{dims: dims}
}

// Name returns the backend identifier.
func (h *HashEmbedder) Name() string { return "hash" }

// Embed returns L2-normalised term-frequency vectors.
func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.embed(text)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		vec[f.Sum32()%uint32(h.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"in": true, "on": true, "to": true, "for": true, "is": true, "are": true,
	"do": true, "does": true, "i": true, "my": true, "how": true, "what": true,
	"when": true, "which": true, "with": true, "can": true, "should": true,
}
