package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/wesm/mailtracker/internal/config"
	"github.com/wesm/mailtracker/internal/tui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard for first-run configuration",
	Long: `Interactive setup wizard that writes config.toml.

It asks for the output folder, the mail source and its settings, and an
optional sync schedule for 'mailtracker serve'. Existing values are offered
as defaults, so running it again edits the current configuration.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Welcome to mailtracker setup!")
	fmt.Fprintln(out)

	values := tui.NewSetupValues(cfg)
	if err := tui.SetupForm(values).RunWithContext(cmd.Context()); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(out, "Setup cancelled; nothing was saved.")
			return nil
		}
		return err
	}
	if err := values.Apply(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(out, "\nConfiguration saved to %s\n", cfg.ConfigPath)
	printNextSteps(out, cfg.Source.Type)
	return nil
}

func printNextSteps(w io.Writer, source string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Setup complete! Next steps:")
	fmt.Fprintln(w)
	step := 1
	switch source {
	case config.SourceGraph, config.SourceGmail:
		fmt.Fprintf(w, "  %d. Sign in:\n     mailtracker add-account\n\n", step)
		step++
	case config.SourceIMAP:
		fmt.Fprintf(w, "  %d. Store the IMAP password:\n     mailtracker add-imap\n\n", step)
		step++
	}
	fmt.Fprintf(w, "  %d. Sync your mailbox:\n     mailtracker sync\n\n", step)
	fmt.Fprintln(w, "For more help: mailtracker --help")
}
