package commands

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docchat/internal/bootstrap"
	"docchat/internal/config"
	"docchat/internal/platform/database"
	"docchat/internal/repository"
)

// NewRootCmd builds the docchatctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docchatctl",
		Short: "Inspect and manage docchat chat history",
		Long: `docchatctl reads the same configuration as the server and works
directly on the chat history database.

Examples:
  docchatctl sessions
  docchatctl history show <session-id>
  docchatctl history delete --all`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("format", "table", "Output format: table or json")

	root.AddCommand(NewSessionsCmd())
	root.AddCommand(NewHistoryCmd())
	return root
}

func Execute() error {
	return NewRootCmd().Execute()
}

// openHistory loads configuration and opens the history store. The caller
// must invoke the returned close function.
func openHistory(ctx context.Context) (*repository.ChatHistoryRepository, func(), error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	db, history, err := bootstrap.OpenHistory(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening history: %w", err)
	}
	return history, func() { _ = database.Close(db) }, nil
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return "", err
	}
	switch format {
	case "table", "json":
		return format, nil
	default:
		return "", fmt.Errorf("unknown format %q", format)
	}
}
