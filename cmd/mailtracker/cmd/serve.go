package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/mailtracker/internal/api"
	"github.com/wesm/mailtracker/internal/scheduler"
	"github.com/wesm/mailtracker/internal/store"
)

var serveSyncNow bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled sync",
	Long: `Run mailtracker as a long-running daemon in the foreground. It serves:
  - the read-only HTTP API on [server] bind_addr:api_port (default 127.0.0.1:8080)
  - scheduled syncs when [schedule] is enabled
  - on-demand syncs through POST /api/v1/sync

Configure the schedule in config.toml:
  [schedule]
  cron = "*/30 * * * *"
  enabled = true

Cron format: minute hour day-of-month month day-of-week
  Examples:
    */15 * * * *  = Every 15 minutes
    0 8,18 * * *  = 8 AM and 6 PM daily
    @hourly       = Every hour

Use Ctrl+C to stop the daemon gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveSyncNow, "sync-now", false, "run a sync immediately on startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateSchedule(); err != nil {
		return err
	}
	if err := ensureHome(); err != nil {
		return err
	}

	history := openHistory()
	var runs api.RunStore
	if history != nil {
		defer history.Close()
		runs = history
	}

	sched := scheduler.New(func(ctx context.Context) error {
		return scheduledSync(ctx, history)
	}).WithLogger(logger)
	if cfg.Schedule.Enabled {
		if err := sched.SetSchedule(cfg.Schedule.Cron); err != nil {
			return configError(err)
		}
	}

	data := &api.Files{
		ReportPath: cfg.ReportPath(),
		StatePath:  cfg.StatePath(),
		Logger:     logger,
	}
	server := api.NewServer(cfg.Server, data, runs, sched, logger)

	sched.Start()
	if serveSyncNow {
		if err := sched.TriggerSync(); err != nil {
			logger.Warn("initial sync not started", "error", err)
		}
	}

	fmt.Fprintln(out, "mailtracker daemon started")
	fmt.Fprintf(out, "  API server:    http://%s\n", server.Addr())
	fmt.Fprintf(out, "  Output folder: %s\n", cfg.Output.Root)
	if st := sched.Status(); st.Schedule != "" {
		fmt.Fprintf(out, "  Schedule:      %s (next sync at %s)\n", st.Schedule, st.NextRun.Local().Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintln(out, "  Schedule:      none (POST /api/v1/sync to sync)")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Press Ctrl+C to stop.")

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}

		fmt.Fprintln(out, "Waiting for a running sync to stop...")
		select {
		case <-sched.Stop().Done():
			fmt.Fprintln(out, "Shutdown complete.")
		case <-time.After(30 * time.Second):
			fmt.Fprintln(out, "Shutdown timed out after 30 seconds.")
		}
		return nil
	})

	// Start returns nil only after Shutdown; a listen error cancels ctx and
	// takes the scheduler down with it.
	if err := g.Wait(); err != nil {
		return fmt.Errorf("API server: %w", err)
	}
	return cmd.Context().Err()
}

// scheduledSync runs one sync for the scheduler. The source is opened per
// run so a refreshed token or edited password is picked up.
func scheduledSync(ctx context.Context, history *store.Store) error {
	src, err := openSource(ctx, false)
	if err != nil {
		return err
	}
	defer src.Close()

	summary, err := runTracker(ctx, src, history, nil)
	if err != nil {
		return err
	}
	logger.Info("scheduled sync finished",
		"added", summary.MessagesAdded,
		"skipped", summary.MessagesSkipped,
		"report", summary.ReportPath)
	return nil
}
