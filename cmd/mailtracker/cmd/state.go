package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/mailtracker/internal/state"
	"github.com/wesm/mailtracker/internal/store"
	"github.com/wesm/mailtracker/internal/tui"
)

var (
	stateShowIDs  bool
	stateResetAll bool
	stateResetYes bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset the sync state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the high-water mark and processed message count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		path := cfg.StatePath()
		st := state.Load(path, logger)

		fmt.Fprintf(out, "State file:      %s\n", path)
		if since := st.Since(); since != nil {
			fmt.Fprintf(out, "Last received:   %s (%s local)\n",
				since.UTC().Format(time.RFC3339), since.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Fprintln(out, "Last received:   never (next sync fetches everything)")
		}
		fmt.Fprintf(out, "Processed:       %d messages\n", st.Len())
		printLastRun(out)
		if stateShowIDs {
			for _, id := range st.IDs() {
				fmt.Fprintln(out, id)
			}
		}
		return nil
	},
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Rescan the mailbox on the next sync",
	Long: `Clear the high-water mark so the next sync scans the whole mailbox.

Processed message IDs are kept, so messages already in the workbook are not
added again. With --all the state file is deleted as well; the next sync
then appends every message again, so only use it together with a fresh
output folder.`,
	Args: cobra.NoArgs,
	RunE: runStateReset,
}

func init() {
	stateShowCmd.Flags().BoolVar(&stateShowIDs, "ids", false, "list processed message IDs")
	stateResetCmd.Flags().BoolVar(&stateResetAll, "all", false, "delete the state file, forgetting processed IDs")
	stateResetCmd.Flags().BoolVarP(&stateResetYes, "yes", "y", false, "do not ask for confirmation")
	stateCmd.AddCommand(stateShowCmd, stateResetCmd)
	rootCmd.AddCommand(stateCmd)
}

// printLastRun adds the newest completed run when a history database
// exists. It never creates one.
func printLastRun(w io.Writer) {
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		return
	}
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		logger.Debug("run history unavailable", "err", err)
		return
	}
	defer s.Close()
	run, err := s.LastSuccessfulRun()
	if err != nil || run == nil {
		return
	}
	fmt.Fprintf(w, "Last sync:       %s (%d added)\n",
		run.StartedAt.Local().Format("2006-01-02 15:04:05"), run.MessagesAdded)
}

func runStateReset(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := cfg.StatePath()

	if !stateResetYes {
		prompt := "Clear the high-water mark?"
		if stateResetAll {
			prompt = "Delete the state file? Every message will be added again."
		}
		ok, err := tui.Confirm(prompt)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if stateResetAll {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove state: %w", err)
		}
		fmt.Fprintf(out, "Removed %s\n", path)
		return nil
	}

	st := state.Load(path, logger)
	st.Rewind()
	if err := state.Save(path, st); err != nil {
		return err
	}
	fmt.Fprintf(out, "High-water mark cleared; %d processed IDs kept.\n", st.Len())
	return nil
}
