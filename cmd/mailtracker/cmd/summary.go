package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/mailtracker/internal/aggregate"
	"github.com/wesm/mailtracker/internal/report"
	"github.com/wesm/mailtracker/internal/tui"
)

var (
	summaryJSON  bool
	summaryWidth int
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the per-topic overview without syncing",
	Long: `Read the workbook and print one line per topic: message counts, unread
and attachment counts, messages in the last 7 days and the latest message.

The figures are recomputed from the topic sheets, so Last 7 Days is
relative to now rather than to the last sync.`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().BoolVar(&summaryJSON, "json", false, "print JSON instead of a table")
	summaryCmd.Flags().IntVar(&summaryWidth, "width", 0, "table width (default: $COLUMNS, unlimited if unset)")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := cfg.ReportPath()

	if !report.Exists(path) {
		fmt.Fprintf(out, "No workbook at %s. Run 'mailtracker sync' first.\n", path)
		return nil
	}
	wb, err := report.Open(path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	topics, err := wb.TopicRows()
	if err != nil {
		return fmt.Errorf("read workbook: %w", err)
	}
	summaries := aggregate.Summarize(topics, time.Now(), cfg.AttachmentsDir())

	if summaryJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	width := summaryWidth
	if width == 0 {
		width, _ = strconv.Atoi(os.Getenv("COLUMNS"))
	}
	fmt.Fprint(out, tui.RenderOverview(summaries, tui.OverviewOptions{
		Width: width,
		Title: path,
	}))
	return nil
}
