// Package rag is the semantic index behind course retrieval. It keeps two
// independent collections, a catalog of course titles and the chunked
// course content, behind the VectorStore interface so the retrieval layer
// never depends on a specific backend.
package rag

import (
	"context"
	"errors"
	"strconv"
)

// ErrIndexUnavailable marks a failure of the index backend or the embedder,
// including timeouts. It is distinct from an empty result.
var ErrIndexUnavailable = errors.New("index unavailable")

// Collection names one of the two independent collections.
type Collection string

const (
	// CollectionCatalog holds one entry per course, keyed by title.
	CollectionCatalog Collection = "catalog"
	// CollectionContent holds one entry per chunk.
	CollectionContent Collection = "content"
)

// Collections lists every collection a backend must provide.
var Collections = []Collection{CollectionCatalog, CollectionContent}

// Metadata keys written by the Index.
const (
	MetaCourseTitle  = "course_title"
	MetaLessonNumber = "lesson_number"
	MetaChunkIndex   = "chunk_index"
	// MetaCourse holds the JSON-encoded course header on catalog entries.
	MetaCourse = "course"
)

// Document is a unit of stored or retrieved text.
type Document struct {
	// ID is unique within its collection.
	ID string

	// Content is the embedded text.
	Content string

	// Metadata holds string key-value pairs such as course_title.
	Metadata map[string]string

	// Score is the cosine similarity to the query, set by Search.
	Score float32
}

// Filter restricts a content search. Set fields combine with logical AND;
// the zero Filter matches everything.
type Filter struct {
	CourseTitle  string
	LessonNumber *int
}

// Match reports whether metadata satisfies the filter.
func (f Filter) Match(meta map[string]string) bool {
	if f.CourseTitle != "" && meta[MetaCourseTitle] != f.CourseTitle {
		return false
	}
	if f.LessonNumber != nil && meta[MetaLessonNumber] != strconv.Itoa(*f.LessonNumber) {
		return false
	}
	return true
}

// VectorStore persists and searches document embeddings in the two
// collections. Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or replaces documents by ID. embeddings[i] is the vector
	// for docs[i].
	Upsert(ctx context.Context, c Collection, docs []Document, embeddings [][]float32) error

	// Search returns at most topK documents matching f, best match first.
	Search(ctx context.Context, c Collection, query []float32, f Filter, topK int) ([]Document, error)

	// Get returns the document with the given ID, or nil when absent.
	Get(ctx context.Context, c Collection, id string) (*Document, error)

	// List returns every document in the collection without scores.
	List(ctx context.Context, c Collection) ([]Document, error)

	// Count returns the number of documents in the collection.
	Count(ctx context.Context, c Collection) (int, error)

	// Reset removes every document from both collections.
	Reset(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
