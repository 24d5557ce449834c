package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesm/mailtracker/internal/config"
	"github.com/wesm/mailtracker/internal/gmail"
	"github.com/wesm/mailtracker/internal/graph"
	"github.com/wesm/mailtracker/internal/oauth"
)

var (
	deviceCode  bool
	forceReauth bool
)

var addAccountCmd = &cobra.Command{
	Use:   "add-account",
	Short: "Sign in to the configured Microsoft 365 or Gmail mailbox",
	Long: `Complete the OAuth2 sign-in for the mailbox configured in config.toml and
store the token under the home directory.

By default a browser is opened. Use --device on a machine without a browser
(Microsoft only): a code is printed to enter on another device.

If a token already exists the command only verifies it. Use --force to
delete it and sign in again.

Examples:
  mailtracker add-account
  mailtracker add-account --device
  mailtracker add-account --force`,
	Args: cobra.NoArgs,
	RunE: runAddAccount,
}

func init() {
	addAccountCmd.Flags().BoolVar(&deviceCode, "device", false, "use the device code flow instead of a browser")
	addAccountCmd.Flags().BoolVar(&forceReauth, "force", false, "delete the existing token and sign in again")
	rootCmd.AddCommand(addAccountCmd)
}

func runAddAccount(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if cfg.Source.Type == config.SourceIMAP || cfg.Source.Type == config.SourceMbox {
		return configError(fmt.Errorf("source %q does not sign in with OAuth; use 'mailtracker add-imap' for IMAP", cfg.Source.Type))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if deviceCode && cfg.Source.Type == config.SourceGmail {
		return configError(fmt.Errorf("--device is not supported for Gmail"))
	}

	mgr, account, err := oauthManager()
	if err != nil {
		return err
	}
	mgr.SetOutput(out)

	if forceReauth && mgr.HasToken(account) {
		fmt.Fprintf(out, "Removing existing token for %s...\n", account)
		if err := mgr.DeleteToken(account); err != nil {
			return fmt.Errorf("delete existing token: %w", err)
		}
	}

	if !mgr.HasToken(account) {
		if deviceCode {
			fmt.Fprintln(out, "Starting device code sign-in...")
		} else {
			fmt.Fprintln(out, "Starting browser sign-in...")
		}
		if err := mgr.Authorize(ctx, account, deviceCode); err != nil {
			return fmt.Errorf("authorization failed: %w", err)
		}
	}

	who, err := verifyAccount(ctx, mgr, account)
	if err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	fmt.Fprintf(out, "Signed in as %s.\n", who)
	fmt.Fprintln(out, "Next step: mailtracker sync")
	return nil
}

// verifyAccount makes one API call with the stored token and returns the
// mailbox owner it reports.
func verifyAccount(ctx context.Context, mgr *oauth.Manager, account string) (string, error) {
	ts, err := mgr.TokenSource(ctx, account)
	if err != nil {
		return "", err
	}

	if cfg.Source.Type == config.SourceGmail {
		profile, err := gmail.NewClient(ts, gmail.WithLogger(logger)).Profile(ctx)
		if err != nil {
			return "", err
		}
		if profile.EmailAddress != "" && !strings.EqualFold(profile.EmailAddress, account) {
			logger.Warn("signed-in Gmail account differs from config", "config", account, "token", profile.EmailAddress)
		}
		return profile.EmailAddress, nil
	}

	client := graph.NewClient(ts, graph.WithLogger(logger), graph.WithUserID(cfg.Graph.UserID))
	user, err := client.Me(ctx)
	if err != nil {
		return "", err
	}
	switch {
	case user.Mail != "":
		return fmt.Sprintf("%s <%s>", user.DisplayName, user.Mail), nil
	case user.UserPrincipalName != "":
		return fmt.Sprintf("%s <%s>", user.DisplayName, user.UserPrincipalName), nil
	default:
		return user.DisplayName, nil
	}
}
