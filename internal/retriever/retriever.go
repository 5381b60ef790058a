// Package retriever finds the passages most relevant to a pivot-language
// question.
//
// Retrieval never fabricates results and never fails the pipeline: an empty
// or unreachable index yields no passages plus an error the caller treats as
// a soft failure.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nadzzz/agrivoice/internal/message"
	"github.com/nadzzz/agrivoice/internal/retry"
)

// DefaultK is the number of passages retrieved when the caller passes k <= 0.
const DefaultK = 5

// ErrIndexEmpty is returned when the index holds no documents.
var ErrIndexEmpty = errors.New("document index is empty")

// Embedder turns texts into vectors. Vectors from one embedder are comparable.
type Embedder interface {
	// Name returns the backend identifier (e.g., "ollama", "openai", "hash").
	Name() string

	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Document is an indexed chunk.
type Document struct {
	ID     string
	Text   string
	Source string
	Vector []float32
}

// Index stores documents and answers nearest-neighbour queries.
type Index interface {
	// Add inserts documents. Re-adding an ID replaces it in place.
	Add(ctx context.Context, docs []Document) error

	// Search returns at most k passages ordered by descending score, ties in insertion order.
	Search(ctx context.Context, vector []float32, k int) ([]message.Passage, error)

	// RemoveSource deletes every document from source.
	RemoveSource(ctx context.Context, source string) error

	// Len returns the number of indexed documents.
	Len() int
}

// Options tunes a Retriever.
type Options struct {
	K     int
	Retry retry.Policy
}

// Retriever embeds questions and searches the index.
type Retriever struct {
	embedder Embedder
	index    Index
	k        int
	policy   retry.Policy
}

// New creates a Retriever.
func New(embedder Embedder, index Index, opts Options) *Retriever {
	k := opts.K
	if k <= 0 {
		k = DefaultK
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		k:        k,
		policy:   opts.Retry,
	}
}

// Index exposes the underlying index for loaders.
func (r *Retriever) Index() Index { return r.index }

// Embedder exposes the embedder for loaders.
func (r *Retriever) Embedder() Embedder { return r.embedder }

// Retrieve returns at most k passages for text. A non-nil error means the
// result is degraded; the passages are then empty.
func (r *Retriever) Retrieve(ctx context.Context, text string, k int) ([]message.Passage, error) {
	if k <= 0 {
		k = r.k
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("retrieve: empty question")
	}
	if r.index.Len() == 0 {
		return nil, ErrIndexEmpty
	}

	var passages []message.Passage
	err := retry.Do(ctx, r.policy, "retriever.search", func(ctx context.Context) error {
		vecs, err := r.embedder.Embed(ctx, []string{text})
		if err != nil {
			return fmt.Errorf("embedding question: %w", err)
		}
		if len(vecs) != 1 {
			return retry.Permanent(fmt.Errorf("embedder %s returned %d vectors for 1 text", r.embedder.Name(), len(vecs)))
		}
		res, err := r.index.Search(ctx, vecs[0], k)
		if err != nil {
			return fmt.Errorf("searching index: %w", err)
		}
		passages = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(passages) > k {
		passages = passages[:k]
	}
	slog.Debug("retrieval complete", "passages", len(passages), "k", k)
	return passages, nil
}

// Check reports whether the index has documents and the embedder answers.
func (r *Retriever) Check(ctx context.Context) error {
	if r.index.Len() == 0 {
		return ErrIndexEmpty
	}
	if _, err := r.embedder.Embed(ctx, []string{"health"}); err != nil {
		return fmt.Errorf("embedder %s: %w", r.embedder.Name(), err)
	}
	return nil
}
