// Package ingestion implements the course ingestion pipeline.
// It parses course documents, chunks each course, and hands course and
// chunks to the semantic index. This pipeline is invoked by the
// `courserag ingest` CLI command and at `courserag serve` startup.
package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/54b3r/courserag-go/internal/chunker"
	"github.com/54b3r/courserag-go/internal/course"
	"github.com/54b3r/courserag-go/internal/logging"
	"github.com/54b3r/courserag-go/internal/rag"
)

// Extensions lists the file suffixes picked up when a directory is ingested.
var Extensions = []string{".txt"}

// Indexer is the write side of the semantic index.
type Indexer interface {
	// Ingest stores a course and its chunks. It reports false when the
	// title was already indexed.
	Ingest(ctx context.Context, c *course.Course, chunks []course.Chunk) (bool, error)
	// Rebuild clears the index and stores entries, returning how many
	// courses were added.
	Rebuild(ctx context.Context, entries []rag.Entry) (int, error)
}

// Summary reports the outcome of an ingestion run.
type Summary struct {
	// Files is the number of documents read.
	Files int
	// Added is the number of courses newly indexed.
	Added int
	// Skipped is the number of courses whose title was already indexed.
	Skipped int
	// Chunks is the number of chunks stored for added courses.
	Chunks int
	// Failed maps documents that could not be parsed to their error.
	Failed map[string]error
}

// Pipeline orchestrates the parse → chunk → index flow for a set of course
// documents.
type Pipeline struct {
	// index stores parsed courses.
	index Indexer

	// chunker splits course text into overlapping chunks.
	chunker *chunker.Chunker
}

// NewPipeline constructs a Pipeline. A nil chunker uses the defaults.
func NewPipeline(index Indexer, ch *chunker.Chunker) (*Pipeline, error) {
	if index == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	if ch == nil {
		ch = chunker.New()
	}
	return &Pipeline{index: index, chunker: ch}, nil
}

// IngestCourse chunks and indexes one parsed course. It returns false when
// the course title was already indexed.
func (p *Pipeline) IngestCourse(ctx context.Context, c *course.Course) (bool, int, error) {
	chunks := p.chunker.Chunk(c)
	added, err := p.index.Ingest(ctx, c, chunks)
	if err != nil {
		return false, 0, fmt.Errorf("ingestion: index %q: %w", c.Title, err)
	}
	if !added {
		return false, 0, nil
	}
	return true, len(chunks), nil
}

// IngestFiles ingests every document named by paths. Directories are walked
// for files with one of Extensions. Documents that fail to parse are
// recorded in Summary.Failed and skipped; index failures abort the run.
//
// With replaceAll the index is cleared and rebuilt from exactly these
// documents. Otherwise courses already indexed are skipped.
// Progress is reported via the optional progress callback.
func (p *Pipeline) IngestFiles(ctx context.Context, paths []string, replaceAll bool, progress func(msg string)) (*Summary, error) {
	if progress == nil {
		progress = func(string) {}
	}
	log := logging.FromContext(ctx)

	files, err := collect(paths)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Failed: map[string]error{}}
	var entries []rag.Entry
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		c, err := course.ParseFile(path)
		if err != nil {
			log.Warn("ingestion: skipping unparseable document",
				slog.String("path", path),
				slog.Any("error", err),
			)
			sum.Failed[path] = err
			continue
		}
		sum.Files++

		if replaceAll {
			entries = append(entries, rag.Entry{Course: c, Chunks: p.chunker.Chunk(c)})
			continue
		}

		added, n, err := p.IngestCourse(ctx, c)
		if err != nil {
			return sum, err
		}
		if !added {
			sum.Skipped++
			progress(fmt.Sprintf("skipped %s: course %q already indexed", path, c.Title))
			continue
		}
		sum.Added++
		sum.Chunks += n
		progress(fmt.Sprintf("ingested %q from %s (%d chunks)", c.Title, path, n))
	}

	if replaceAll {
		progress(fmt.Sprintf("rebuilding index from %d documents", len(entries)))
		added, err := p.index.Rebuild(ctx, entries)
		if err != nil {
			return sum, fmt.Errorf("ingestion: rebuild: %w", err)
		}
		sum.Added = added
		sum.Skipped = len(entries) - added
		for _, e := range entries {
			sum.Chunks += len(e.Chunks)
		}
		// Duplicate titles within one rebuild keep only the first course's
		// chunks, so subtract the skipped ones.
		seen := map[string]bool{}
		for _, e := range entries {
			if seen[e.Course.Title] {
				sum.Chunks -= len(e.Chunks)
			}
			seen[e.Course.Title] = true
		}
	}

	log.Info("ingestion: run complete",
		slog.Int("files", sum.Files),
		slog.Int("added", sum.Added),
		slog.Int("skipped", sum.Skipped),
		slog.Int("chunks", sum.Chunks),
		slog.Int("failed", len(sum.Failed)),
		slog.Bool("replace_all", replaceAll),
	)
	return sum, nil
}

// collect expands paths into a list of document files. Files named
// explicitly are kept regardless of extension.
func collect(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("ingestion: %w", err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !hasExtension(d.Name()) {
				return nil
			}
			files = append(files, p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("ingestion: walk %s: %w", path, err)
		}
	}
	return files, nil
}

func hasExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range Extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
