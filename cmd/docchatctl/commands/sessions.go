package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type sessionRow struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
}

// NewSessionsCmd lists sessions, most recently active first.
func NewSessionsCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions by recent activity",
		Long: `List sessions ordered by their latest message, newest first.

Examples:
  docchatctl sessions
  docchatctl sessions --limit 20 --offset 20
  docchatctl sessions --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			history, closeFn, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			titles := history.ListRecentSessionTitles(cmd.Context(), limit, offset)
			rows := make([]sessionRow, 0, len(titles))
			for _, t := range titles {
				rows = append(rows, sessionRow{SessionID: t.SessionID, Title: t.DisplayTitle()})
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				return writeJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No sessions found")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "SESSION\tTITLE\n")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\n", r.SessionID, truncate(r.Title, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of sessions")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of sessions to skip")
	return cmd
}
