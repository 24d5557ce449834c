package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wesm/mailtracker/internal/store"
	"github.com/wesm/mailtracker/internal/tui"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent sync runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureHome(); err != nil {
			return err
		}
		s, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer s.Close()

		runs, err := s.ListRuns(historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if historyJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		printRuns(out, runs)
		if stats, err := s.GetStats(); err == nil && stats.Runs > int64(len(runs)) {
			fmt.Fprintf(out, "\nShowing %d of %d runs (%d failed).\n", len(runs), stats.Runs, stats.FailedRuns)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON")
	rootCmd.AddCommand(historyCmd)
}

func printRuns(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No sync runs recorded yet.")
		return
	}
	fmt.Fprintf(w, "%-6s %-19s %-10s %-9s %7s %7s %7s  %s\n",
		"ID", "STARTED", "STATUS", "DURATION", "FOUND", "ADDED", "FILES", "SOURCE")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt.Valid {
			duration = tui.FormatDuration(r.CompletedAt.Time.Sub(r.StartedAt))
		}
		fmt.Fprintf(w, "%-6d %-19s %-10s %-9s %7d %7d %7d  %s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status, duration,
			r.MessagesFound, r.MessagesAdded, r.AttachmentsSaved, r.Source)
		if r.ErrorMessage.Valid && r.ErrorMessage.String != "" {
			fmt.Fprintf(w, "       error: %s\n", tui.Truncate(r.ErrorMessage.String, 100))
		}
		for _, tc := range r.Topics {
			fmt.Fprintf(w, "       %s %d\n", tui.PadRight(tui.Truncate(tc.Topic, 31), 32), tc.Messages)
		}
	}
}
