// Package audiostore publishes synthesized answers and returns a URL the
// client can fetch them from.
package audiostore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists audio under a content key.
type Store interface {
	// Put stores data as <key><ext> and returns its URL. Re-putting a key overwrites it.
	Put(ctx context.Context, key, ext, contentType string, data []byte) (string, error)

	// Check reports whether the store is writable.
	Check(ctx context.Context) error
}

// Local writes audio into a directory that the HTTP transport serves.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal creates the directory if needed. baseURL is the public prefix
// (e.g., "/audio" or "https://agri.example.com/audio").
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audiostore: creating %s: %w", dir, err)
	}
	if baseURL == "" {
		baseURL = "/audio"
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory served under the base URL.
func (l *Local) Dir() string { return l.dir }

// Put writes the file atomically via rename.
func (l *Local) Put(_ context.Context, key, ext, _ string, data []byte) (string, error) {
	name := key + ext
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("audiostore: invalid key %q", key)
	}
	tmp, err := os.CreateTemp(l.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("audiostore: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("audiostore: writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("audiostore: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(l.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("audiostore: publishing %s: %w", name, err)
	}
	return l.baseURL + "/" + name, nil
}

// Check verifies the directory exists.
func (l *Local) Check(context.Context) error {
	info, err := os.Stat(l.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("audiostore: %s is not a directory", l.dir)
	}
	return nil
}
