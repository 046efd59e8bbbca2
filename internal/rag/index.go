package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/54b3r/courserag-go/internal/course"
	"github.com/54b3r/courserag-go/internal/logging"
)

const (
	// DefaultTimeout bounds every embedder and backend call.
	DefaultTimeout = 30 * time.Second
	// DefaultTopK is the result count used when a search passes topK <= 0.
	DefaultTopK = 5

	embedBatchSize = 64
)

// ErrCourseNotFound is returned by Course when no catalog entry has the title.
var ErrCourseNotFound = errors.New("rag: course not found")

// Config holds the collaborators of an Index.
type Config struct {
	// Embedder converts catalog titles, chunks and queries to vectors.
	Embedder Embedder
	// Store holds the catalog and content collections.
	Store VectorStore
	// Timeout bounds each embed or backend call. Zero means DefaultTimeout.
	Timeout time.Duration
	// TopK is the default content result count.
	TopK int
}

// Index is the semantic index over the catalog and content collections.
// Searches may run concurrently with each other and with writes; Ingest and
// Rebuild on the same Index are mutually exclusive.
type Index struct {
	embedder Embedder
	store    VectorStore
	timeout  time.Duration
	topK     int

	// writeMu serialises ingestion and rebuild.
	writeMu sync.Mutex
}

// Match is the closest catalog entry to a course name.
type Match struct {
	Title    string
	Distance float32
}

// Result is one content search hit.
type Result struct {
	Content      string
	CourseTitle  string
	LessonNumber *int
	Distance     float32
}

// Entry pairs a course with its chunks for Rebuild.
type Entry struct {
	Course *course.Course
	Chunks []course.Chunk
}

// New constructs an Index from cfg.
func New(cfg Config) (*Index, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Index{
		embedder: cfg.Embedder,
		store:    cfg.Store,
		timeout:  cfg.Timeout,
		topK:     cfg.TopK,
	}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("rag: %s: %w: %w", op, ErrIndexUnavailable, err)
}

func (x *Index) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		cctx, cancel := context.WithTimeout(ctx, x.timeout)
		vecs, err := x.embedder.Embed(cctx, texts[start:end])
		cancel()
		if err != nil {
			return nil, unavailable("embed", err)
		}
		if len(vecs) != end-start {
			return nil, unavailable("embed", fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Ingest adds a course to the catalog and its chunks to the content
// collection. A course whose title is already cataloged is skipped and
// Ingest returns false.
func (x *Index) Ingest(ctx context.Context, c *course.Course, chunks []course.Chunk) (bool, error) {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()
	return x.ingest(ctx, c, chunks)
}

func (x *Index) ingest(ctx context.Context, c *course.Course, chunks []course.Chunk) (bool, error) {
	exists, err := x.hasCourse(ctx, c.Title)
	if err != nil {
		return false, err
	}
	if exists {
		logging.FromContext(ctx).Info("rag: course already indexed, skipping", slog.String("course", c.Title))
		return false, nil
	}
	// Content goes first so a failed ingest never leaves a catalog entry
	// that would cause the retry to be skipped.
	if err := x.AddContent(ctx, chunks); err != nil {
		return false, err
	}
	if err := x.putCatalog(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}

// AddCourse writes the catalog entry for c, keyed by its title. It returns
// false without writing when the title is already present.
func (x *Index) AddCourse(ctx context.Context, c *course.Course) (bool, error) {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	exists, err := x.hasCourse(ctx, c.Title)
	if err != nil || exists {
		return false, err
	}
	if err := x.putCatalog(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}

func (x *Index) hasCourse(ctx context.Context, title string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	doc, err := x.store.Get(cctx, CollectionCatalog, title)
	if err != nil {
		return false, unavailable("catalog lookup", err)
	}
	return doc != nil, nil
}

func (x *Index) putCatalog(ctx context.Context, c *course.Course) error {
	header, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("rag: encode course %q: %w", c.Title, err)
	}
	vecs, err := x.embed(ctx, []string{c.Title})
	if err != nil {
		return err
	}
	doc := Document{
		ID:       c.Title,
		Content:  c.Title,
		Metadata: map[string]string{MetaCourse: string(header)},
	}
	cctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	if err := x.store.Upsert(cctx, CollectionCatalog, []Document{doc}, vecs); err != nil {
		return unavailable("catalog upsert", err)
	}
	return nil
}

// AddContent embeds and stores chunks in the content collection.
func (x *Index) AddContent(ctx context.Context, chunks []course.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	docs := make([]Document, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
		meta := map[string]string{
			MetaCourseTitle: ch.CourseTitle,
			MetaChunkIndex:  strconv.Itoa(ch.Index),
		}
		if ch.LessonNumber != nil {
			meta[MetaLessonNumber] = strconv.Itoa(*ch.LessonNumber)
		}
		docs[i] = Document{
			ID:       fmt.Sprintf("%s#%d", ch.CourseTitle, ch.Index),
			Content:  ch.Content,
			Metadata: meta,
		}
	}
	vecs, err := x.embed(ctx, texts)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	if err := x.store.Upsert(cctx, CollectionContent, docs, vecs); err != nil {
		return unavailable("content upsert", err)
	}
	return nil
}

// Rebuild clears both collections and ingests entries in order. Duplicate
// titles within entries keep their first occurrence.
func (x *Index) Rebuild(ctx context.Context, entries []Entry) (int, error) {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, x.timeout)
	err := x.store.Reset(cctx)
	cancel()
	if err != nil {
		return 0, unavailable("reset", err)
	}

	added := 0
	for _, e := range entries {
		ok, err := x.ingest(ctx, e.Course, e.Chunks)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// ResolveCourse returns the catalog entry closest to name. ok is false only
// when the catalog is empty.
func (x *Index) ResolveCourse(ctx context.Context, name string) (Match, bool, error) {
	vecs, err := x.embed(ctx, []string{name})
	if err != nil {
		return Match{}, false, err
	}
	cctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	docs, err := x.store.Search(cctx, CollectionCatalog, vecs[0], Filter{}, 1)
	if err != nil {
		return Match{}, false, unavailable("catalog search", err)
	}
	if len(docs) == 0 {
		return Match{}, false, nil
	}
	return Match{Title: docs[0].ID, Distance: Distance(docs[0].Score)}, true, nil
}

// SearchContent returns chunks relevant to query, restricted by f and ordered
// by ascending distance. topK <= 0 uses the configured default. An empty
// result is not an error.
func (x *Index) SearchContent(ctx context.Context, query string, f Filter, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = x.topK
	}
	vecs, err := x.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	docs, err := x.store.Search(cctx, CollectionContent, vecs[0], f, topK)
	if err != nil {
		return nil, unavailable("content search", err)
	}

	out := make([]Result, 0, len(docs))
	for _, d := range docs {
		r := Result{
			Content:     d.Content,
			CourseTitle: d.Metadata[MetaCourseTitle],
			Distance:    Distance(d.Score),
		}
		if v, ok := d.Metadata[MetaLessonNumber]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				r.LessonNumber = course.IntPtr(n)
			}
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

// Course returns the cataloged course header (title, link, instructor and
// lessons without content) for title.
func (x *Index) Course(ctx context.Context, title string) (*course.Course, error) {
	cctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	doc, err := x.store.Get(cctx, CollectionCatalog, title)
	if err != nil {
		return nil, unavailable("catalog get", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %q", ErrCourseNotFound, title)
	}
	return decodeCourse(doc)
}

func decodeCourse(doc *Document) (*course.Course, error) {
	c := &course.Course{Title: doc.ID}
	if raw := doc.Metadata[MetaCourse]; raw != "" {
		if err := json.Unmarshal([]byte(raw), c); err != nil {
			return nil, fmt.Errorf("rag: decode course %q: %w", doc.ID, err)
		}
	}
	return c, nil
}

// Titles returns every cataloged course title, sorted.
func (x *Index) Titles(ctx context.Context) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	docs, err := x.store.List(cctx, CollectionCatalog)
	if err != nil {
		return nil, unavailable("catalog list", err)
	}
	titles := make([]string, 0, len(docs))
	for _, d := range docs {
		titles = append(titles, d.ID)
	}
	sort.Strings(titles)
	return titles, nil
}

// Stats returns the course count and titles.
func (x *Index) Stats(ctx context.Context) (course.Stats, error) {
	titles, err := x.Titles(ctx)
	if err != nil {
		return course.Stats{}, err
	}
	return course.Stats{CourseCount: len(titles), CourseTitles: titles}, nil
}

// Ping checks that the backend answers.
func (x *Index) Ping(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	if _, err := x.store.Count(cctx, CollectionCatalog); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
