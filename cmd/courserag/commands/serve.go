package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/courserag-go/internal/provider"
	"github.com/54b3r/courserag-go/internal/server"
	"github.com/54b3r/courserag-go/internal/version"
)

// NewServeCmd constructs the `courserag serve` command, which starts the
// HTTP server exposing the course assistant.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var docs string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the courserag HTTP server",
		Long: `Start the courserag HTTP server.

The server exposes POST /api/query and GET /api/courses, plus
/api/health, /api/ready and /metrics for operators. When --docs (or
COURSERAG_DOCS) names course files or folders, they are ingested before
the server starts listening; courses already in the index are skipped.
Without --docs the index must already exist: a missing or unreadable
index is a startup error, never an empty catalog.

Examples:
  courserag serve
  courserag serve --port 9090 --docs ./docs
  INDEX_BACKEND=memory courserag serve --docs ./docs`,
		RunE: audited(func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := loggerFor(cmd)

			s, err := loadSettings()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if cmd.Flags().Changed("host") {
				s.Host = host
			}
			if cmd.Flags().Changed("port") {
				s.Port = port
			}
			if cmd.Flags().Changed("docs") {
				s.Docs = docs
			}

			log.Info("serve starting",
				slog.String("version", version.String()),
				slog.String("index", s.IndexBackend),
			)

			flush := setupTracing(log)
			defer flush()

			paths := splitPaths(s.Docs)
			idx, err := openIndex(ctx, s, len(paths) > 0)
			if err != nil {
				if len(paths) == 0 {
					return fmt.Errorf("serve: %w (run `courserag ingest` or pass --docs to build it)", err)
				}
				return fmt.Errorf("serve: %w", err)
			}
			defer idx.close()

			if len(paths) > 0 {
				if _, err := ingestPaths(ctx, s, idx.Index, paths, false); err != nil {
					return fmt.Errorf("serve: startup ingestion failed: %w", err)
				}
			}

			asst, err := buildAssistant(ctx, s, idx.Index)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pingers := []server.Pinger{server.NewIndexPinger(idx.Index, s.IndexBackend)}
			if idx.qdrant != nil {
				pingers = append(pingers, server.NewQdrantPinger(idx.qdrant.Client()))
			}
			pingers = append(pingers, server.NewLLMPinger(
				asst.chatModel,
				provider.NewHealthCheck(asst.providerCfg),
				string(asst.providerCfg.Backend),
			))

			srv, err := server.New(asst.Assistant, &server.Config{
				Host:      s.Host,
				Port:      s.Port,
				Logger:    log,
				Pingers:   pingers,
				RateLimit: s.RateLimit,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		}),
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: COURSERAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on (env: COURSERAG_PORT)")
	cmd.Flags().StringVar(&docs, "docs", "", "Comma-separated course files or folders to ingest at startup (env: COURSERAG_DOCS)")

	return cmd
}
