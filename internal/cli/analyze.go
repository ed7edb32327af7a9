package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewAnalyzeCmd prints a book's analytics, or its in-progress chapter rates, as JSON.
func NewAnalyzeCmd(configPath *string) *cobra.Command {
	var (
		bookID   string
		ownerID  string
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Print analytics for a quiz book",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			tracker, cleanup, err := buildTracker(ctx, cfg, log)
			defer cleanup()
			if err != nil {
				return err
			}

			var out any
			if progress {
				out, err = tracker.GetProgressRates(ctx, ownerID, bookID)
			} else {
				out, err = tracker.GetAnalytics(ctx, ownerID, bookID)
			}
			if err != nil {
				return fmt.Errorf("analyze %s: %w", bookID, err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&bookID, "book", "", "quiz book id")
	cmd.Flags().StringVar(&ownerID, "owner", "", "owner id")
	cmd.Flags().BoolVar(&progress, "progress", false, "print chapter rates for the round in progress")
	_ = cmd.MarkFlagRequired("book")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
