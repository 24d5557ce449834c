package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesm/mailtracker/internal/mail"
	"github.com/wesm/mailtracker/internal/store"
	"github.com/wesm/mailtracker/internal/sync"
	"github.com/wesm/mailtracker/internal/tui"
)

var syncNoHistory bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch new messages and update the workbook",
	Long: `Fetch messages received since the last run, classify them into topics,
save their attachments and update the workbook.

On the first run every message in the mailbox is fetched. The state file is
only written after the workbook is saved, so an interrupted or failed run is
retried in full by the next one.

Examples:
  mailtracker sync
  mailtracker sync --verbose`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncNoHistory, "no-history", false, "do not record this run in the history database")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	src, err := openSource(ctx, true)
	if err != nil {
		return err
	}
	defer src.Close()

	var history *store.Store
	if !syncNoHistory {
		history = openHistory()
		if history != nil {
			defer history.Close()
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Syncing %s into %s\n", src.Name(), cfg.Output.Root)

	summary, err := runTracker(ctx, src, history, NewCLIProgress(out))
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(out, "\nSync interrupted. State was not updated; run again to resume.")
			return ctx.Err()
		}
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Fprintf(out, "  Messages:      %d found, %d added, %d skipped\n",
		summary.MessagesFound, summary.MessagesAdded, summary.MessagesSkipped)
	fmt.Fprintf(out, "  Attachments:   %d saved\n", summary.AttachmentsSaved)
	fmt.Fprintf(out, "  Duration:      %s\n", tui.FormatDuration(summary.Duration))
	fmt.Fprintf(out, "Done. Processed %d new messages. Updated: %s\n", summary.MessagesAdded, summary.ReportPath)
	return nil
}

// runTracker performs one sync of src with the configured outputs. history
// may be nil.
func runTracker(ctx context.Context, src mail.Source, history *store.Store, progress sync.Progress) (*sync.Summary, error) {
	opts := sync.OptionsForRoot(cfg.Output.Root)
	opts.PageSize = cfg.Sync.PageSize

	tracker := sync.New(src, opts).WithLogger(logger)
	if progress != nil {
		tracker.WithProgress(progress)
	}
	if history != nil {
		tracker.WithRecorder(history)
	}
	return tracker.Run(ctx)
}

// openHistory opens the run history database. A database that cannot be
// opened only costs the history, so the error is logged and nil returned.
func openHistory() *store.Store {
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		logger.Warn("run history unavailable", "path", cfg.DatabasePath(), "error", err)
		fmt.Fprintf(os.Stderr, "Warning: run history unavailable: %v\n", err)
		return nil
	}
	return s
}
