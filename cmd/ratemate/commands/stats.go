package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatsCmd constructs the `ratemate stats` command, which prints the
// per-table row counts of the ingested corpus.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print corpus row counts",
		Long: `Print the number of posts, comments, and attachments in the ingested
corpus database.

Examples:
  ratemate stats
  RATEMATE_DB=/data/ratemate.db ratemate stats`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer func() { _ = st.Close() }()

			counts, err := st.Counts(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			fmt.Printf("posts:       %d\n", counts.Posts)
			fmt.Printf("comments:    %d\n", counts.Comments)
			fmt.Printf("attachments: %d\n", counts.Attachments)
			return nil
		},
	}
}
