package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatsCmd constructs the `courserag stats` command, which prints the
// course catalog.
func NewStatsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the indexed courses",
		RunE: audited(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			s, err := loadSettings()
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			idx, err := openIndex(ctx, s, false)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer idx.close()

			st, err := idx.Stats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if st.CourseTitles == nil {
					st.CourseTitles = []string{}
				}
				return json.NewEncoder(out).Encode(st)
			}
			fmt.Fprintf(out, "%d course(s)\n", st.CourseCount)
			for _, title := range st.CourseTitles {
				fmt.Fprintf(out, "  - %s\n", title)
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the catalog as JSON")

	return cmd
}
