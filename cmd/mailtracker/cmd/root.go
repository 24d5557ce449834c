package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesm/mailtracker/internal/config"
	"github.com/wesm/mailtracker/internal/fileutil"
)

var (
	cfgFile string
	homeDir string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

// errConfig marks errors caused by configuration or usage rather than by a
// failed run.
var errConfig = errors.New("configuration error")

// configError tags err so IsConfigError recognises it.
func configError(err error) error {
	if err == nil || IsConfigError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", errConfig, err)
}

// IsConfigError reports whether err comes from loading or validating the
// configuration, or from invalid command-line usage.
func IsConfigError(err error) bool {
	var verr *config.ValidationError
	return errors.Is(err, errConfig) || errors.As(err, &verr)
}

var rootCmd = &cobra.Command{
	Use:   "mailtracker",
	Short: "Track a mailbox by topic in a spreadsheet",
	Long: `mailtracker pulls new messages from one mailbox, classifies each message
into a topic, saves attachments under a folder per topic and keeps a
spreadsheet with one sheet per topic plus an Overview sheet.

Runs are incremental: only messages received since the last run are
fetched, and a message is never added twice.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Set up logging
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(logger)

		if cmd.Name() == "version" || cmd.Name() == "classify" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile, homeDir)
		if err != nil {
			return configError(fmt.Errorf("load config: %w", err))
		}
		return nil
	},
}

// ensureHome creates the home directory. Commands call it once the
// configuration has been validated, so a rejected config leaves no trace.
func ensureHome() error {
	if err := fileutil.MkdirAll(cfg.HomeDir, 0o700); err != nil {
		return fmt.Errorf("create home directory %s: %w", cfg.HomeDir, err)
	}
	return nil
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.mailtracker/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "home directory (overrides MAILTRACKER_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return configError(err)
	})
}
