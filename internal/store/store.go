// Package store provides durable, file-backed implementations of
// rag.VectorStore. Both backends keep the catalog and content collections
// side by side in one file and rank by brute-force cosine similarity, which
// suits corpora of a few thousand chunks.
//
// Opening never silently creates an empty index: a missing file is reported
// as ErrIndexMissing unless Options.Create is set, and an unreadable file or
// one without the expected tables is reported as ErrIndexCorrupt. Both wrap
// rag.ErrIndexUnavailable, as does ErrIndexLocked for a bbolt file held by
// another process.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/54b3r/courserag-go/internal/rag"
)

var (
	// ErrIndexMissing is returned when the index file does not exist.
	ErrIndexMissing = errors.New("index not found")
	// ErrIndexCorrupt is returned when the index file cannot be read as an index.
	ErrIndexCorrupt = errors.New("index corrupt")
	// ErrIndexLocked is returned when another process holds the index file.
	ErrIndexLocked = errors.New("index locked by another process")
)

// Options controls how an index file is opened.
type Options struct {
	// Create allows a missing file to be created with an empty schema.
	Create bool
	// LockTimeout bounds the wait for a file lock held by another process.
	// Zero means defaultLockTimeout.
	LockTimeout time.Duration
}

const defaultLockTimeout = 5 * time.Second

// DefaultIndexPath returns ~/.courserag/<name>, creating the directory if
// needed.
func DefaultIndexPath(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".courserag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, name), nil
}

// prepare checks that path exists, or creates its parent directory when
// opts.Create is set.
func prepare(path string, opts Options) error {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("store: stat %s: %w: %w", path, rag.ErrIndexUnavailable, err)
	case !opts.Create:
		return fmt.Errorf("store: open %s: %w: %w", path, rag.ErrIndexUnavailable, ErrIndexMissing)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("store: could not create %s: %w", dir, err)
		}
	}
	return nil
}

func corrupt(path string, err error) error {
	return fmt.Errorf("store: open %s: %w: %w: %v", path, rag.ErrIndexUnavailable, ErrIndexCorrupt, err)
}
