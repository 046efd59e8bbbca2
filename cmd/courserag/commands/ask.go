package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/courserag-go/internal/assistant"
)

// NewAskCmd constructs the `courserag ask` command, which answers a question
// about the indexed courses. Without arguments it reads questions from stdin
// one per line, keeping them in one session so follow-ups have context.
func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the indexed courses",
		Long: `Ask the course assistant a question.

The assistant may search course content and look up course outlines
before answering; the passages it used are listed as sources.

Examples:
  courserag ask "what does lesson 2 of the MCP course cover?"
  courserag ask "give me the outline of the retrieval course"
  courserag ask            # interactive, one question per line`,
		RunE: audited(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := loadSettings()
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			flush := setupTracing(loggerFor(cmd))
			defer flush()

			idx, err := openIndex(ctx, s, false)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer idx.close()

			asst, err := buildAssistant(ctx, s, idx.Index)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				_, err := askOnce(ctx, asst.Assistant, out, strings.Join(args, " "), "")
				return err
			}
			return askLoop(ctx, asst.Assistant, cmd.InOrStdin(), out)
		}),
	}

	return cmd
}

// askOnce answers one question and prints the answer with its sources. It
// returns the session the question ran in.
func askOnce(ctx context.Context, asst *assistant.Assistant, out io.Writer, question, sessionID string) (string, error) {
	resp, err := asst.Handle(ctx, question, sessionID)
	if err != nil {
		return sessionID, fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(out, resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for _, src := range resp.Sources {
			if src.Link != "" {
				fmt.Fprintf(out, "  - %s (%s)\n", src.Label(), src.Link)
			} else {
				fmt.Fprintf(out, "  - %s\n", src.Label())
			}
		}
	}

	if resp.Outcome == assistant.OutcomeGenerationFailed {
		return resp.SessionID, fmt.Errorf("ask: generation failed")
	}
	return resp.SessionID, nil
}

// askLoop reads questions from in until EOF. Failed generations are
// reported but do not end the loop.
func askLoop(ctx context.Context, asst *assistant.Assistant, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sessionID := ""
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		q := strings.TrimSpace(sc.Text())
		if q == "" {
			continue
		}
		if q == "exit" || q == "quit" {
			return nil
		}
		id, err := askOnce(ctx, asst, out, q, sessionID)
		sessionID = id
		if err != nil && ctx.Err() != nil {
			return err
		}
		fmt.Fprintln(out)
	}
}
