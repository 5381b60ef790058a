package retriever

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/nadzzz/agrivoice/internal/message"
)

// MemoryIndex is an in-process cosine-similarity index.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs []Document
	pos  map[string]int // document ID -> position in docs
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{pos: make(map[string]int)}
}

// Add inserts documents, replacing existing IDs in place.
func (m *MemoryIndex) Add(_ context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		if i, ok := m.pos[d.ID]; ok {
			m.docs[i] = d
			continue
		}
		m.pos[d.ID] = len(m.docs)
		m.docs = append(m.docs, d)
	}
	return nil
}

// Search scores every document and returns the top k.
func (m *MemoryIndex) Search(_ context.Context, vector []float32, k int) ([]message.Passage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		doc   *Document
		score float64
	}
	results := make([]scored, len(m.docs))
	for i := range m.docs {
		results[i] = scored{doc: &m.docs[i], score: similarity(vector, m.docs[i].Vector)}
	}

	// Stable sort keeps insertion order among equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}

	out := make([]message.Passage, len(results))
	for i, r := range results {
		out[i] = message.Passage{
			DocumentID:  r.doc.ID,
			Text:        r.doc.Text,
			Score:       r.score,
			SourceLabel: r.doc.Source,
		}
	}
	return out, nil
}

// RemoveSource deletes every document from source, preserving the order of the rest.
func (m *MemoryIndex) RemoveSource(_ context.Context, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.docs[:0]
	for _, d := range m.docs {
		if d.Source != source {
			kept = append(kept, d)
		}
	}
	m.docs = kept
	m.pos = make(map[string]int, len(kept))
	for i, d := range kept {
		m.pos[d.ID] = i
	}
	return nil
}

// Reset drops every document.
func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = nil
	m.pos = make(map[string]int)
}

// Len returns the number of indexed documents.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// similarity is cosine similarity clamped to [0, 1]. Mismatched or zero
// vectors score 0.
func similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, s))
}
