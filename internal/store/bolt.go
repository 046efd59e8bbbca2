package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/54b3r/courserag-go/internal/rag"
)

// boltRecord is the JSON value stored under each document ID.
type boltRecord struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Vector   []float32         `json:"vector"`
}

// BoltStore is a rag.VectorStore backed by a bbolt file with one bucket per
// collection. bbolt holds an exclusive file lock, so only one process can
// open the index at a time.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens the bbolt index at path.
func OpenBolt(path string, opts Options) (*BoltStore, error) {
	if err := prepare(path, opts); err != nil {
		return nil, err
	}
	timeout := opts.LockTimeout
	if timeout == 0 {
		timeout = defaultLockTimeout
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("store: open %s: %w: %w", path, rag.ErrIndexUnavailable, ErrIndexLocked)
	}
	if err != nil {
		return nil, corrupt(path, err)
	}

	if opts.Create {
		err = db.Update(func(tx *bbolt.Tx) error {
			for _, c := range rag.Collections {
				if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
					return err
				}
			}
			return nil
		})
	} else {
		err = db.View(func(tx *bbolt.Tx) error {
			for _, c := range rag.Collections {
				if tx.Bucket([]byte(c)) == nil {
					return fmt.Errorf("missing bucket %q", c)
				}
			}
			return nil
		})
	}
	if err != nil {
		_ = db.Close()
		return nil, corrupt(path, err)
	}
	return &BoltStore{db: db}, nil
}

func bucket(tx *bbolt.Tx, c rag.Collection) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(c))
	if b == nil {
		return nil, fmt.Errorf("store: unknown collection %q", c)
	}
	return b, nil
}

// Upsert stores or replaces documents by ID in one transaction.
func (s *BoltStore) Upsert(_ context.Context, c rag.Collection, docs []rag.Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("store: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, c)
		if err != nil {
			return err
		}
		for i, d := range docs {
			data, err := json.Marshal(boltRecord{Content: d.Content, Metadata: d.Metadata, Vector: embeddings[i]})
			if err != nil {
				return fmt.Errorf("store: encode %q: %w", d.ID, err)
			}
			if err := b.Put([]byte(d.ID), data); err != nil {
				return fmt.Errorf("store: put %q: %w", d.ID, err)
			}
		}
		return nil
	})
}

// scan decodes every record in the collection, in key order, stopping once
// ctx is done.
func (s *BoltStore) scan(ctx context.Context, c rag.Collection, fn func(id string, rec boltRecord)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, c)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("store: decode %q: %w", k, err)
			}
			fn(string(k), rec)
			return nil
		})
	})
}

// Search ranks every matching record by cosine similarity.
func (s *BoltStore) Search(ctx context.Context, c rag.Collection, query []float32, f rag.Filter, topK int) ([]rag.Document, error) {
	var cands []rag.Candidate
	err := s.scan(ctx, c, func(id string, rec boltRecord) {
		cands = append(cands, rag.Candidate{
			Doc:    rag.Document{ID: id, Content: rec.Content, Metadata: rec.Metadata},
			Vector: rec.Vector,
		})
	})
	if err != nil {
		return nil, err
	}
	return rag.Rank(query, cands, f, topK), nil
}

// Get returns one document by ID, or nil when absent.
func (s *BoltStore) Get(ctx context.Context, c rag.Collection, id string) (*rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc *rag.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, c)
		if err != nil {
			return err
		}
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		var rec boltRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("store: decode %q: %w", id, err)
		}
		doc = &rag.Document{ID: id, Content: rec.Content, Metadata: rec.Metadata}
		return nil
	})
	return doc, err
}

// List returns every document in key order.
func (s *BoltStore) List(ctx context.Context, c rag.Collection) ([]rag.Document, error) {
	var docs []rag.Document
	err := s.scan(ctx, c, func(id string, rec boltRecord) {
		docs = append(docs, rag.Document{ID: id, Content: rec.Content, Metadata: rec.Metadata})
	})
	return docs, err
}

// Count returns the number of keys in the collection's bucket.
func (s *BoltStore) Count(_ context.Context, c rag.Collection) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, c)
		if err != nil {
			return err
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Reset drops and recreates both buckets in one transaction.
func (s *BoltStore) Reset(context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, c := range rag.Collections {
			if err := tx.DeleteBucket([]byte(c)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return fmt.Errorf("store: drop %s: %w", c, err)
			}
			if _, err := tx.CreateBucket([]byte(c)); err != nil {
				return fmt.Errorf("store: create %s: %w", c, err)
			}
		}
		return nil
	})
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
