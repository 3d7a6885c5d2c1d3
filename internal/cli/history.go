package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"frametest/internal/store"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent suite runs from the history database",
		Long: `List the most recent suite runs recorded with run --db.

Example:
  frametest history --db ./history.db --limit 20`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "open history database", err)
			}
			defer st.Close()

			runs, err := st.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "read history", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no recorded runs")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %s  %dP/%dF/%dE/%dT  %s\n",
					r.RunID, r.Suite, r.StartedAt,
					r.Passed, r.Failed, r.Errored, r.TimedOut,
					r.Duration)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "path to the history database (required)")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum runs to list")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}
