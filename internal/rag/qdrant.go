package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// ErrCollectionMissing is returned when a Qdrant collection the index needs
// does not exist.
var ErrCollectionMissing = errors.New("collection not found")

// payload keys reserved by QdrantStore.
const (
	qdrantDocID   = "doc_id"
	qdrantContent = "content"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Prefix names the collections: <prefix>_catalog and <prefix>_content.
	Prefix string

	// VectorSize is the embedding dimensionality. When zero, collections are
	// created on first upsert with the size of the first vector.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Create allows missing collections to be created. Without it both
	// collections must already exist and reads never treat a missing one
	// as empty.
	Create bool
}

// QdrantStore implements VectorStore with one Qdrant collection per
// Collection.
type QdrantStore struct {
	client *qdrant.Client
	cfg    *QdrantConfig

	mu    sync.Mutex
	ready map[string]bool
}

// NewQdrantStore connects to Qdrant. With Create set and VectorSize known it
// ensures both collections exist; without Create it requires them to.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "courserag"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	s := &QdrantStore{client: client, cfg: cfg, ready: map[string]bool{}}
	switch {
	case !cfg.Create:
		err = requireCollections(ctx, s.exists)
	case cfg.VectorSize > 0:
		for _, c := range Collections {
			if err = s.ensureCollection(ctx, c, cfg.VectorSize); err != nil {
				break
			}
		}
	}
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// requireCollections fails with ErrIndexUnavailable unless every collection
// exists.
func requireCollections(ctx context.Context, exists func(context.Context, Collection) (bool, error)) error {
	for _, c := range Collections {
		ok, err := exists(ctx, c)
		if err != nil {
			return fmt.Errorf("qdrant: %w: %w", ErrIndexUnavailable, err)
		}
		if !ok {
			return fmt.Errorf("qdrant: collection %q: %w: %w", c, ErrIndexUnavailable, ErrCollectionMissing)
		}
	}
	return nil
}

// Client exposes the underlying client for health checks.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

func (s *QdrantStore) name(c Collection) string {
	return s.cfg.Prefix + "_" + string(c)
}

// pointID derives a stable UUID from the document ID so upserts replace.
func pointID(c Collection, id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(string(c)+"/"+id)).String())
}

// ensureCollection creates the collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context, c Collection, size uint64) error {
	name := s.name(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready[name] {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     size,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
		}
	}
	s.ready[name] = true
	return nil
}

// exists reports whether the collection has been created.
func (s *QdrantStore) exists(ctx context.Context, c Collection) (bool, error) {
	name := s.name(c)
	s.mu.Lock()
	ready := s.ready[name]
	s.mu.Unlock()
	if ready {
		return true, nil
	}
	ok, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if ok {
		s.mu.Lock()
		s.ready[name] = true
		s.mu.Unlock()
	}
	return ok, nil
}

// readable reports whether reads should hit the collection. A missing
// collection reads as empty only for a store opened with Create, where it
// has simply not been written yet (for example after Reset).
func (s *QdrantStore) readable(ctx context.Context, c Collection) (bool, error) {
	ok, err := s.exists(ctx, c)
	if err != nil {
		return false, err
	}
	if !ok && !s.cfg.Create {
		return false, fmt.Errorf("qdrant: collection %q: %w: %w", s.name(c), ErrIndexUnavailable, ErrCollectionMissing)
	}
	return ok, nil
}

// Upsert stores documents with their embeddings.
func (s *QdrantStore) Upsert(ctx context.Context, c Collection, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, c, uint64(len(embeddings[0]))); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		payload := map[string]any{
			qdrantDocID:   doc.ID,
			qdrantContent: doc.Content,
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}
		// lesson_number is stored as an integer so filters use integer match.
		if v, ok := doc.Metadata[MetaLessonNumber]; ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				payload[MetaLessonNumber] = n
			}
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(c, doc.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.name(c),
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

func qdrantFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.CourseTitle != "" {
		must = append(must, qdrant.NewMatch(MetaCourseTitle, f.CourseTitle))
	}
	if f.LessonNumber != nil {
		must = append(must, qdrant.NewMatchInt(MetaLessonNumber, int64(*f.LessonNumber)))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// Search performs a filtered cosine similarity search.
func (s *QdrantStore) Search(ctx context.Context, c Collection, query []float32, f Filter, topK int) ([]Document, error) {
	ok, err := s.readable(ctx, c)
	if err != nil || !ok {
		return nil, err
	}
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.name(c),
		Query:          qdrant.NewQuery(query...),
		Filter:         qdrantFilter(f),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		doc := fromPayload(r.Payload)
		doc.Score = r.Score
		docs = append(docs, doc)
	}
	return docs, nil
}

func fromPayload(p map[string]*qdrant.Value) Document {
	doc := Document{Metadata: make(map[string]string)}
	for k, v := range p {
		switch k {
		case qdrantDocID:
			doc.ID = v.GetStringValue()
		case qdrantContent:
			doc.Content = v.GetStringValue()
		case MetaLessonNumber:
			doc.Metadata[k] = strconv.FormatInt(v.GetIntegerValue(), 10)
		default:
			doc.Metadata[k] = v.GetStringValue()
		}
	}
	return doc
}

// Get fetches one document by ID.
func (s *QdrantStore) Get(ctx context.Context, c Collection, id string) (*Document, error) {
	ok, err := s.readable(ctx, c)
	if err != nil || !ok {
		return nil, err
	}
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.name(c),
		Ids:            []*qdrant.PointId{pointID(c, id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: get failed: %w", err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	doc := fromPayload(points[0].Payload)
	return &doc, nil
}

// List scrolls the whole collection.
func (s *QdrantStore) List(ctx context.Context, c Collection) ([]Document, error) {
	n, err := s.Count(ctx, c)
	if err != nil || n == 0 {
		return nil, err
	}
	limit := uint32(n)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.name(c),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: scroll failed: %w", err)
	}
	docs := make([]Document, 0, len(points))
	for _, p := range points {
		docs = append(docs, fromPayload(p.Payload))
	}
	return docs, nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context, c Collection) (int, error) {
	ok, err := s.readable(ctx, c)
	if err != nil || !ok {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.name(c),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return int(n), nil
}

// Reset drops both collections. They are recreated on the next upsert.
func (s *QdrantStore) Reset(ctx context.Context) error {
	for _, c := range Collections {
		ok, err := s.exists(ctx, c)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := s.client.DeleteCollection(ctx, s.name(c)); err != nil {
			return fmt.Errorf("qdrant: delete collection %q: %w", s.name(c), err)
		}
	}
	s.mu.Lock()
	s.ready = map[string]bool{}
	s.mu.Unlock()
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
