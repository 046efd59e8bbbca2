package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewIngestCmd constructs the `courserag ingest` command, which parses
// course documents and adds them to the semantic index.
func NewIngestCmd() *cobra.Command {
	var replaceAll bool

	cmd := &cobra.Command{
		Use:   "ingest <file|folder>...",
		Short: "Add course documents to the semantic index",
		Long: `Parse course documents, chunk them and store them in the semantic index.

Folders are walked for .txt files; files named explicitly are always read.
A course whose title is already indexed is skipped. With --replace-all the
index is cleared first and rebuilt from the given documents.

Documents use the course text format:

  Course Title: <title>
  Course Link: <url>
  Course Instructor: <name>

  Lesson 0: <title>
  Lesson Link: <url>
  <lesson text>

Examples:
  courserag ingest ./docs
  courserag ingest --replace-all ./docs course4_script.txt
  INDEX_BACKEND=qdrant courserag ingest ./docs`,
		Args: cobra.MinimumNArgs(1),
		RunE: audited(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := loadSettings()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			idx, err := openIndex(ctx, s, true)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer idx.close()

			sum, err := ingestPaths(ctx, s, idx.Index, args, replaceAll)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d file(s): %d course(s) added, %d already indexed, %d chunk(s)\n",
				sum.Files, sum.Added, sum.Skipped, sum.Chunks)
			if len(sum.Failed) > 0 {
				return fmt.Errorf("ingest: %d document(s) could not be parsed", len(sum.Failed))
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&replaceAll, "replace-all", false, "Clear the index before ingesting")

	return cmd
}
