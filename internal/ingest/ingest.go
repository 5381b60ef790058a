// Package ingest loads agricultural documents into the retrieval index.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nadzzz/agrivoice/internal/retriever"
)

// Extensions lists the file types the loader reads as plain text.
var Extensions = []string{".txt", ".md", ".markdown"}

// Event reports a completed ingestion so dependants (the response cache)
// can invalidate stale state.
type Event struct {
	Paths  []string
	Chunks int
	At     time.Time
}

// Notifier receives ingestion events.
type Notifier func(ctx context.Context, ev Event)

// Options tunes a Loader.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Notify       Notifier
}

// Loader chunks, embeds and indexes documents.
type Loader struct {
	index    retriever.Index
	embedder retriever.Embedder
	size     int
	overlap  int
	notify   Notifier
}

// NewLoader creates a Loader writing into index.
func NewLoader(index retriever.Index, embedder retriever.Embedder, opts Options) *Loader {
	size := opts.ChunkSize
	if size <= 0 {
		size = 1000
	}
	overlap := opts.ChunkOverlap
	if overlap < 0 {
		overlap = 200
	}
	return &Loader{
		index:    index,
		embedder: embedder,
		size:     size,
		overlap:  overlap,
		notify:   opts.Notify,
	}
}

// LoadDir ingests every supported file under dir and returns the chunk count.
// A missing directory is not an error; the index simply stays empty.
func (l *Loader) LoadDir(ctx context.Context, dir string) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		slog.Warn("documents directory does not exist, index is empty", "dir", dir)
		return 0, nil
	}

	var (
		paths []string
		total int
	)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !Supported(path) {
			return nil
		}
		n, err := l.ingest(ctx, path)
		if err != nil {
			slog.Error("failed to ingest document", "path", path, "error", err)
			return nil
		}
		paths = append(paths, path)
		total += n
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("walking %s: %w", dir, err)
	}

	slog.Info("documents ingested", "dir", dir, "files", len(paths), "chunks", total)
	l.emit(ctx, paths, total)
	return total, nil
}

// LoadFile ingests or re-ingests one file.
func (l *Loader) LoadFile(ctx context.Context, path string) (int, error) {
	n, err := l.ingest(ctx, path)
	if err != nil {
		return 0, err
	}
	slog.Info("document ingested", "path", path, "chunks", n)
	l.emit(ctx, []string{path}, n)
	return n, nil
}

// Remove drops every chunk of path from the index.
func (l *Loader) Remove(ctx context.Context, path string) error {
	if err := l.index.RemoveSource(ctx, SourceLabel(path)); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	slog.Info("document removed", "path", path)
	l.emit(ctx, []string{path}, 0)
	return nil
}

func (l *Loader) ingest(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	source := SourceLabel(path)
	pieces := Chunk(string(data), l.size, l.overlap)

	// Replace any previous version of the file.
	if err := l.index.RemoveSource(ctx, source); err != nil {
		return 0, fmt.Errorf("clearing %s: %w", source, err)
	}
	if len(pieces) == 0 {
		return 0, nil
	}

	vectors, err := l.embedder.Embed(ctx, pieces)
	if err != nil {
		return 0, fmt.Errorf("embedding %s: %w", source, err)
	}
	if len(vectors) != len(pieces) {
		return 0, fmt.Errorf("embedding %s: got %d vectors for %d chunks", source, len(vectors), len(pieces))
	}

	docID := documentID(path)
	docs := make([]retriever.Document, len(pieces))
	for i, text := range pieces {
		docs[i] = retriever.Document{
			ID:     fmt.Sprintf("%s#%d", docID, i),
			Text:   text,
			Source: source,
			Vector: vectors[i],
		}
	}
	if err := l.index.Add(ctx, docs); err != nil {
		return 0, fmt.Errorf("indexing %s: %w", source, err)
	}
	return len(docs), nil
}

func (l *Loader) emit(ctx context.Context, paths []string, chunks int) {
	if l.notify == nil || len(paths) == 0 {
		return
	}
	l.notify(ctx, Event{Paths: paths, Chunks: chunks, At: time.Now()})
}

// Supported reports whether path has a loadable extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// SourceLabel is the human-readable source recorded on each passage.
func SourceLabel(path string) string {
	return filepath.Base(path)
}

func documentID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:8])
}
