package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/cobra"

	"github.com/54b3r/courserag-go/internal/agent"
	"github.com/54b3r/courserag-go/internal/assistant"
	"github.com/54b3r/courserag-go/internal/chunker"
	"github.com/54b3r/courserag-go/internal/config"
	"github.com/54b3r/courserag-go/internal/embedder"
	"github.com/54b3r/courserag-go/internal/ingestion"
	"github.com/54b3r/courserag-go/internal/logging"
	"github.com/54b3r/courserag-go/internal/provider"
	"github.com/54b3r/courserag-go/internal/rag"
	"github.com/54b3r/courserag-go/internal/session"
	"github.com/54b3r/courserag-go/internal/store"
	"github.com/54b3r/courserag-go/internal/tools"
	"github.com/54b3r/courserag-go/internal/tracing"
)

// Default index file names under ~/.courserag.
const (
	sqliteIndexFile = "index.db"
	boltIndexFile   = "index.bolt"
)

// loadSettings resolves and validates the runtime settings from the
// environment, after config files have been applied by the root command.
func loadSettings() (*config.Settings, error) {
	s := config.FromEnv()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// openedIndex is a semantic index together with the backend it runs on.
type openedIndex struct {
	*rag.Index
	// qdrant is set when the backend is Qdrant, for the readiness probe.
	qdrant *rag.QdrantStore
	close  func()
}

// openIndex builds the embedder and the configured vector store and wraps
// them in a rag.Index. create allows a file-backed index to be created when
// it does not exist yet; read-only commands pass false so a missing index is
// reported instead of silently answering from an empty one.
func openIndex(ctx context.Context, s *config.Settings, create bool) (*openedIndex, error) {
	log := slog.Default()

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	vs, qs, err := openStore(ctx, log, s, create)
	if err != nil {
		return nil, err
	}
	out := &openedIndex{qdrant: qs}

	idx, err := rag.New(rag.Config{
		Embedder: emb,
		Store:    vs,
		Timeout:  s.IndexTimeout,
		TopK:     s.MaxResults,
	})
	if err != nil {
		_ = vs.Close()
		return nil, err
	}
	out.Index = idx
	out.close = func() {
		if err := vs.Close(); err != nil {
			log.Warn("index: close failed", slog.Any("error", err))
		}
	}
	return out, nil
}

// openStore opens the configured vector store. qs is set for the Qdrant
// backend.
func openStore(ctx context.Context, log *slog.Logger, s *config.Settings, create bool) (vs rag.VectorStore, qs *rag.QdrantStore, err error) {
	switch s.IndexBackend {
	case config.IndexSQLite:
		path, err := indexPath(s.IndexPath, sqliteIndexFile)
		if err != nil {
			return nil, nil, err
		}
		if vs, err = store.OpenSQLite(path, store.Options{Create: create}); err != nil {
			return nil, nil, err
		}
		log.Info("index: sqlite store opened", slog.String("path", path), slog.Bool("create", create))
	case config.IndexBolt:
		path, err := indexPath(s.IndexPath, boltIndexFile)
		if err != nil {
			return nil, nil, err
		}
		if vs, err = store.OpenBolt(path, store.Options{Create: create}); err != nil {
			return nil, nil, err
		}
		log.Info("index: bolt store opened", slog.String("path", path), slog.Bool("create", create))
	case config.IndexQdrant:
		qs, err = rag.NewQdrantStore(ctx, &rag.QdrantConfig{
			Host:       s.QdrantHost,
			Port:       s.QdrantPort,
			Prefix:     s.QdrantPrefix,
			VectorSize: uint64(embedder.DefaultDimensions(embedder.Backend())), //nolint:gosec // dimensions are bounded
			APIKey:     s.QdrantAPIKey,
			UseTLS:     s.QdrantTLS,
			Create:     create,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open Qdrant index at %s:%d: %w", s.QdrantHost, s.QdrantPort, err)
		}
		vs = qs
		log.Info("index: qdrant store ready",
			slog.String("host", s.QdrantHost),
			slog.Int("port", s.QdrantPort),
			slog.String("prefix", s.QdrantPrefix),
		)
	case config.IndexMemory:
		vs = rag.NewMemoryStore()
		log.Info("index: in-memory store, contents are lost on exit")
	default:
		return nil, nil, fmt.Errorf("unknown index backend %q", s.IndexBackend)
	}
	return vs, qs, nil
}

func indexPath(configured, name string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return store.DefaultIndexPath(name)
}

// builtAssistant is the query coordinator and the model behind it.
type builtAssistant struct {
	*assistant.Assistant
	chatModel   model.ToolCallingChatModel
	providerCfg *provider.Config
}

// buildAssistant wires the generator, session store and per-query course
// tools around idx.
func buildAssistant(ctx context.Context, s *config.Settings, idx *rag.Index) (*builtAssistant, error) {
	chatModel, providerCfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	slog.Default().Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	orch, err := agent.New(&agent.Config{
		ChatModel: chatModel,
		Timeout:   s.GenerateTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise orchestrator: %w", err)
	}

	deps := tools.Deps{
		Resolver: rag.NewResolver(idx, s.ResolverMaxDistance),
		Index:    idx,
		TopK:     s.MaxResults,
	}
	asst, err := assistant.New(&assistant.Config{
		Generator: orch,
		Sessions:  session.New(s.MaxHistory),
		Tools:     func() assistant.Toolset { return deps.NewManager() },
		Catalog:   idx,
	})
	if err != nil {
		return nil, err
	}
	return &builtAssistant{Assistant: asst, chatModel: chatModel, providerCfg: providerCfg}, nil
}

// setupTracing registers the model-call log handler and, when Langfuse keys
// are configured, the Langfuse handler. The returned func flushes pending
// traces.
func setupTracing(log *slog.Logger) func() {
	callbacks.AppendGlobalHandlers(tracing.LogHandler(log))

	handler, flush, ok := tracing.Setup()
	if !ok {
		log.Debug("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
		return func() {}
	}
	callbacks.AppendGlobalHandlers(handler)
	log.Info("langfuse tracing enabled")
	return flush
}

// ingestPaths runs the ingestion pipeline over paths and logs the summary.
func ingestPaths(ctx context.Context, s *config.Settings, idx *rag.Index, paths []string, replaceAll bool) (*ingestion.Summary, error) {
	log := slog.Default()

	ch := chunker.New(chunker.WithChunkSize(s.ChunkSize), chunker.WithOverlap(s.ChunkOverlap))
	pipeline, err := ingestion.NewPipeline(idx, ch)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	sum, err := pipeline.IngestFiles(ctx, paths, replaceAll, func(msg string) {
		log.Info(msg)
	})
	if err != nil {
		return nil, err
	}
	for path, ferr := range sum.Failed {
		log.Warn("ingest: document skipped", slog.String("path", path), slog.Any("error", ferr))
	}
	log.Info("ingestion complete",
		slog.Int("files", sum.Files),
		slog.Int("added", sum.Added),
		slog.Int("skipped", sum.Skipped),
		slog.Int("chunks", sum.Chunks),
		slog.Int("failed", len(sum.Failed)),
	)
	return sum, nil
}

// splitPaths splits a comma-separated path list, dropping blanks.
func splitPaths(list string) []string {
	var out []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loggerFor returns the logger the root command stored on cmd's context.
func loggerFor(cmd *cobra.Command) *slog.Logger {
	return logging.FromContext(cmd.Context())
}
