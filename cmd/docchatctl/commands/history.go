package commands

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"docchat/internal/app"
	"docchat/internal/model"
)

// NewHistoryCmd groups the chat history subcommands.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or delete chat history",
	}
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryDeleteCmd())
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session's messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.ValidateSessionID(args[0]); err != nil {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			history, closeFn, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			return printMessages(cmd.OutOrStdout(), format, history.LoadHistory(cmd.Context(), args[0]), false)
		},
	}
}

func newHistoryListCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages across all sessions, newest first",
		Args:  cobra.NoArgs,
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

			return printMessages(cmd.OutOrStdout(), format, history.ListGlobalHistory(cmd.Context(), limit, offset), true)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of messages")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of messages to skip")
	return cmd
}

func newHistoryDeleteCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "delete [session-id]",
		Short: "Delete a session's history, or every session's with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessionID string
			switch {
			case all && len(args) > 0:
				return errors.New("pass a session id or --all, not both")
			case all:
			case len(args) == 1:
				if err := app.ValidateSessionID(args[0]); err != nil {
					return fmt.Errorf("invalid session id %q", args[0])
				}
				sessionID = args[0]
			default:
				return errors.New("a session id or --all is required")
			}

			history, closeFn, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if err := history.DeleteHistory(cmd.Context(), sessionID); err != nil {
				return err
			}
			if all {
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted all chat history")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat history of %s\n", sessionID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Delete every session's history")
	return cmd
}

func printMessages(out io.Writer, format string, messages []model.ChatMessage, withSession bool) error {
	if format == "json" {
		return writeJSON(out, messages)
	}
	if len(messages) == 0 {
		fmt.Fprintln(out, "No messages found")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if withSession {
		fmt.Fprintf(w, "TIMESTAMP\tSESSION\tROLE\tMESSAGE\n")
	} else {
		fmt.Fprintf(w, "TIMESTAMP\tROLE\tMESSAGE\n")
	}
	for _, m := range messages {
		if withSession {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Timestamp, m.SessionID, m.Role, truncate(m.Message, 60))
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.Timestamp, m.Role, truncate(m.Message, 80))
		}
	}
	return w.Flush()
}
