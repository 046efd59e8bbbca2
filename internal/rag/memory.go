package rag

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// MemoryStore is an in-process VectorStore. Nothing survives the process.
type MemoryStore struct {
	mu   sync.RWMutex
	cols map[Collection]*memCollection
}

type memCollection struct {
	order []string
	byID  map[string]Candidate
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.reset()
	return s
}

func (s *MemoryStore) reset() {
	s.cols = make(map[Collection]*memCollection, len(Collections))
	for _, c := range Collections {
		s.cols[c] = &memCollection{byID: map[string]Candidate{}}
	}
}

func (s *MemoryStore) collection(c Collection) (*memCollection, error) {
	col, ok := s.cols[c]
	if !ok {
		return nil, fmt.Errorf("memory: unknown collection %q", c)
	}
	return col, nil
}

// Upsert stores or replaces documents by ID.
func (s *MemoryStore) Upsert(_ context.Context, c Collection, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("memory: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collection(c)
	if err != nil {
		return err
	}
	for i, d := range docs {
		if _, exists := col.byID[d.ID]; !exists {
			col.order = append(col.order, d.ID)
		}
		d.Metadata = maps.Clone(d.Metadata)
		d.Score = 0
		col.byID[d.ID] = Candidate{Doc: d, Vector: append([]float32(nil), embeddings[i]...)}
	}
	return nil
}

// Search ranks every document in the collection by cosine similarity.
func (s *MemoryStore) Search(_ context.Context, c Collection, query []float32, f Filter, topK int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, err := s.collection(c)
	if err != nil {
		return nil, err
	}
	cands := make([]Candidate, 0, len(col.order))
	for _, id := range col.order {
		cands = append(cands, col.byID[id])
	}
	return Rank(query, cands, f, topK), nil
}

// Get returns the document with the given ID, or nil when absent.
func (s *MemoryStore) Get(_ context.Context, c Collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, err := s.collection(c)
	if err != nil {
		return nil, err
	}
	cand, ok := col.byID[id]
	if !ok {
		return nil, nil
	}
	d := cand.Doc
	return &d, nil
}

// List returns every document in insertion order.
func (s *MemoryStore) List(_ context.Context, c Collection) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, err := s.collection(c)
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(col.order))
	for _, id := range col.order {
		out = append(out, col.byID[id].Doc)
	}
	return out, nil
}

// Count returns the number of documents in the collection.
func (s *MemoryStore) Count(_ context.Context, c Collection) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, err := s.collection(c)
	if err != nil {
		return 0, err
	}
	return len(col.order), nil
}

// Reset empties both collections.
func (s *MemoryStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
