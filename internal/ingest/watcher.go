package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-ingests documents as files in a directory change.
type Watcher struct {
	loader  *Loader
	watcher *fsnotify.Watcher
}

// NewWatcher watches dir for changes to supported files.
func NewWatcher(loader *Loader, dir string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	return &Watcher{loader: loader, watcher: w}, nil
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("document watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !Supported(ev.Name) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if _, err := w.loader.LoadFile(ctx, ev.Name); err != nil {
			slog.Error("failed to re-ingest document", "path", ev.Name, "error", err)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if err := w.loader.Remove(ctx, ev.Name); err != nil {
			slog.Error("failed to remove document", "path", ev.Name, "error", err)
		}
	}
}
