//go:build integration

package embedder

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/courserag-go/internal/chunker"
	"github.com/54b3r/courserag-go/internal/course"
	"github.com/54b3r/courserag-go/internal/rag"
)

// ollamaFromEnv returns an embedder for the local Ollama, honouring
// OLLAMA_HOST and EMBEDDING_MODEL.
//
//	ollama pull nomic-embed-text
//	go test -tags=integration ./internal/embedder/
func ollamaFromEnv(t *testing.T) (*OllamaEmbedder, string) {
	t.Helper()
	host := getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
	model := getEnvOrDefault("EMBEDDING_MODEL", "nomic-embed-text")
	if os.Getenv("CI") != "" && os.Getenv("OLLAMA_HOST") == "" {
		t.Skip("OLLAMA_HOST not set in CI")
	}
	return NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}), model
}

func TestOllamaEmbedder_Integration(t *testing.T) {
	emb, model := ollamaFromEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	texts := []string{
		"Lesson 1 introduces prompt caching and why it lowers latency.",
		"The final lesson covers evaluating retrieval quality with held-out questions.",
	}
	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed: %v (is %q pulled?)", err, model)
	}
	if len(vecs) != len(texts) || len(vecs[0]) == 0 {
		t.Fatalf("got %d embeddings, dim %d", len(vecs), len(vecs[0]))
	}
	if rag.CosineSimilarity(vecs[0], vecs[1]) > 0.999 {
		t.Error("distinct texts produced identical vectors")
	}
	t.Logf("model=%s dim=%d (set EMBEDDING_DIMENSIONS=%d for the qdrant index)", model, len(vecs[0]), len(vecs[0]))
}

// TestOllamaEmbedder_ResolveAndSearch runs a real embedder through the
// index: a misspelled course name must resolve, and a lesson-filtered
// search must only return that lesson.
func TestOllamaEmbedder_ResolveAndSearch(t *testing.T) {
	emb, _ := ollamaFromEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	idx, err := rag.New(rag.Config{Embedder: emb, Store: rag.NewMemoryStore()})
	if err != nil {
		t.Fatal(err)
	}
	docs := []string{
		"Course Title: Building Towards Computer Use with Anthropic\n\nLesson 1: Overview\nComputer use lets a model operate a desktop through screenshots.\n\nLesson 2: Prompt Caching\nCaching a long prompt prefix reduces cost and latency.\n",
		"Course Title: Advanced Retrieval for AI with Chroma\n\nLesson 1: Query Expansion\nExpanding a query with generated answers improves recall.\n",
	}
	ch := chunker.New()
	for _, d := range docs {
		c, err := course.Parse(strings.NewReader(d))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := idx.Ingest(ctx, c, ch.Chunk(c)); err != nil {
			t.Fatalf("Ingest %q: %v", c.Title, err)
		}
	}

	title, ok, err := rag.NewResolver(idx, 0).Resolve(ctx, "computer use")
	if err != nil || !ok || !strings.HasPrefix(title, "Building Towards") {
		t.Fatalf("Resolve = %q, %v, %v", title, ok, err)
	}

	results, err := idx.SearchContent(ctx, "how does caching help", rag.Filter{CourseTitle: title, LessonNumber: course.IntPtr(2)}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no results for lesson 2")
	}
	for _, r := range results {
		if r.LessonNumber == nil || *r.LessonNumber != 2 {
			t.Errorf("result outside lesson 2: %+v", r)
		}
	}
}
