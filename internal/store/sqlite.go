package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/54b3r/courserag-go/internal/rag"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteStore is a rag.VectorStore backed by a local SQLite database with
// one table per collection. Vectors are stored as JSON arrays.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// memoryPath opens a private in-memory database, for tests.
const memoryPath = ":memory:"

// OpenSQLite opens the SQLite index at path. Use ":memory:" for an in-memory
// database in tests.
func OpenSQLite(path string, opts Options) (*SQLiteStore, error) {
	dsn := path
	if path != memoryPath {
		if err := prepare(path, opts); err != nil {
			return nil, err
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection avoids SQLITE_BUSY and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.check(path, opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func table(c rag.Collection) (string, error) {
	switch c {
	case rag.CollectionCatalog:
		return "catalog", nil
	case rag.CollectionContent:
		return "content", nil
	}
	return "", fmt.Errorf("store: unknown collection %q", c)
}

// check verifies file integrity and the schema, migrating when creating.
func (s *SQLiteStore) check(path string, opts Options) error {
	var result string
	if err := s.db.QueryRow(`PRAGMA quick_check`).Scan(&result); err != nil {
		return corrupt(path, err)
	}
	if result != "ok" {
		return corrupt(path, fmt.Errorf("quick_check: %s", result))
	}

	if opts.Create || path == memoryPath {
		return s.migrate()
	}

	var n int
	const q = `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name IN ('catalog', 'content')`
	if err := s.db.QueryRow(q).Scan(&n); err != nil {
		return corrupt(path, err)
	}
	if n != len(rag.Collections) {
		return corrupt(path, fmt.Errorf("expected %d tables, found %d", len(rag.Collections), n))
	}
	return nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	for _, c := range rag.Collections {
		t, _ := table(c)
		ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT    NOT NULL UNIQUE,
    content       TEXT    NOT NULL,
    course_title  TEXT    NOT NULL DEFAULT '',
    lesson_number INTEGER,
    metadata      TEXT    NOT NULL,  -- JSON object
    vector        TEXT    NOT NULL   -- JSON array of float32
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_course_lesson
    ON %[1]s (course_title, lesson_number);
`, t)
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("store: migrate %s: %w", t, err)
		}
	}
	return nil
}

// Upsert stores or replaces documents by ID in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, c rag.Collection, docs []rag.Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("store: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	t, err := table(c)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: upsert begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := fmt.Sprintf(`
INSERT INTO %s (id, content, course_title, lesson_number, metadata, vector)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    content = excluded.content,
    course_title = excluded.course_title,
    lesson_number = excluded.lesson_number,
    metadata = excluded.metadata,
    vector = excluded.vector`, t)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("store: upsert prepare: %w", err)
	}
	defer stmt.Close()

	for i, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("store: encode metadata %q: %w", d.ID, err)
		}
		vec, err := json.Marshal(embeddings[i])
		if err != nil {
			return fmt.Errorf("store: encode vector %q: %w", d.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.Content, d.Metadata[rag.MetaCourseTitle],
			lessonArg(d.Metadata), string(meta), string(vec)); err != nil {
			return fmt.Errorf("store: upsert %q: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: upsert commit: %w", err)
	}
	return nil
}

func lessonArg(meta map[string]string) sql.NullInt64 {
	v, ok := meta[rag.MetaLessonNumber]
	if !ok {
		return sql.NullInt64{}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}

// Search applies the filter in SQL and ranks the remaining rows by cosine
// similarity.
func (s *SQLiteStore) Search(ctx context.Context, c rag.Collection, query []float32, f rag.Filter, topK int) ([]rag.Document, error) {
	t, err := table(c)
	if err != nil {
		return nil, err
	}
	var lesson sql.NullInt64
	if f.LessonNumber != nil {
		lesson = sql.NullInt64{Int64: int64(*f.LessonNumber), Valid: true}
	}
	q := fmt.Sprintf(`
SELECT id, content, metadata, vector FROM %s
WHERE  (?1 = '' OR course_title = ?1)
  AND  (?2 IS NULL OR lesson_number = ?2)
ORDER  BY seq`, t)

	rows, err := s.db.QueryContext(ctx, q, f.CourseTitle, lesson)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var cands []rag.Candidate
	for rows.Next() {
		cand, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		cands = append(cands, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search rows: %w", err)
	}
	return rag.Rank(query, cands, f, topK), nil
}

func scanCandidate(rows *sql.Rows) (rag.Candidate, error) {
	var (
		cand      rag.Candidate
		meta, vec string
	)
	if err := rows.Scan(&cand.Doc.ID, &cand.Doc.Content, &meta, &vec); err != nil {
		return cand, fmt.Errorf("store: scan: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &cand.Doc.Metadata); err != nil {
		return cand, fmt.Errorf("store: decode metadata %q: %w", cand.Doc.ID, err)
	}
	if err := json.Unmarshal([]byte(vec), &cand.Vector); err != nil {
		return cand, fmt.Errorf("store: decode vector %q: %w", cand.Doc.ID, err)
	}
	return cand, nil
}

// Get returns one document by ID, or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, c rag.Collection, id string) (*rag.Document, error) {
	t, err := table(c)
	if err != nil {
		return nil, err
	}
	var (
		d    = rag.Document{ID: id}
		meta string
	)
	q := fmt.Sprintf(`SELECT content, metadata FROM %s WHERE id = ?`, t)
	err = s.db.QueryRowContext(ctx, q, id).Scan(&d.Content, &meta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
		return nil, fmt.Errorf("store: decode metadata %q: %w", id, err)
	}
	return &d, nil
}

// List returns every document in insertion order.
func (s *SQLiteStore) List(ctx context.Context, c rag.Collection) ([]rag.Document, error) {
	t, err := table(c)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, content, metadata FROM %s ORDER BY seq`, t))
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var docs []rag.Document
	for rows.Next() {
		var (
			d    rag.Document
			meta string
		)
		if err := rows.Scan(&d.ID, &d.Content, &meta); err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
			return nil, fmt.Errorf("store: decode metadata %q: %w", d.ID, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return docs, nil
}

// Count returns the number of rows in the collection's table.
func (s *SQLiteStore) Count(ctx context.Context, c rag.Collection) (int, error) {
	t, err := table(c)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, t)).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Reset deletes every row from both tables in one transaction.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: reset begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, c := range rag.Collections {
		t, _ := table(c)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, t)); err != nil {
			return fmt.Errorf("store: reset %s: %w", t, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: reset commit: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
