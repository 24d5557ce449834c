package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesm/mailtracker/internal/config"
	imapclient "github.com/wesm/mailtracker/internal/imap"
	"github.com/wesm/mailtracker/internal/tui"
)

var (
	imapHost     string
	imapPort     int
	imapUsername string
	imapMailbox  string
	imapNoTLS    bool
	imapSTARTTLS bool
)

var addIMAPCmd = &cobra.Command{
	Use:   "add-imap",
	Short: "Store the password for an IMAP mailbox",
	Long: `Store the password for an IMAP mailbox and make IMAP the mail source.

Connection settings come from the [imap] section of config.toml; flags
override them and are written back. By default the connection uses
implicit TLS (port 993). Use --starttls for STARTTLS on port 143 or
--no-tls for a plain connection (not recommended).

The password is prompted for interactively, never passed as a flag. The
connection is tested before it is saved.

Examples:
  mailtracker add-imap --host imap.example.com --username user@example.com
  mailtracker add-imap --host mail.example.com --username user@example.com --starttls
  mailtracker add-imap --mailbox Archive/Projects`,
	Args: cobra.NoArgs,
	RunE: runAddIMAP,
}

func init() {
	addIMAPCmd.Flags().StringVar(&imapHost, "host", "", "IMAP server hostname")
	addIMAPCmd.Flags().IntVar(&imapPort, "port", 0, "IMAP server port (default: 993 for TLS, 143 otherwise)")
	addIMAPCmd.Flags().StringVar(&imapUsername, "username", "", "IMAP username / email address")
	addIMAPCmd.Flags().StringVar(&imapMailbox, "mailbox", "", "mailbox to track (default: INBOX)")
	addIMAPCmd.Flags().BoolVar(&imapNoTLS, "no-tls", false, "disable TLS (plain connection, not recommended)")
	addIMAPCmd.Flags().BoolVar(&imapSTARTTLS, "starttls", false, "use STARTTLS instead of implicit TLS")
	rootCmd.AddCommand(addIMAPCmd)
}

// applyIMAPFlags copies the flags that were set onto the [imap] section and
// reports whether anything changed.
func applyIMAPFlags(cmd *cobra.Command) bool {
	flags := cmd.Flags()
	changed := false
	if flags.Changed("host") {
		cfg.IMAP.Host = imapHost
		changed = true
	}
	if flags.Changed("port") {
		cfg.IMAP.Port = imapPort
		changed = true
	}
	if flags.Changed("username") {
		cfg.IMAP.Username = imapUsername
		changed = true
	}
	if flags.Changed("mailbox") {
		cfg.IMAP.Mailbox = imapMailbox
		changed = true
	}
	if flags.Changed("no-tls") || flags.Changed("starttls") {
		cfg.IMAP.TLS = !imapNoTLS && !imapSTARTTLS
		cfg.IMAP.STARTTLS = imapSTARTTLS
		changed = true
	}
	return changed
}

func runAddIMAP(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if imapNoTLS && imapSTARTTLS {
		return configError(fmt.Errorf("--no-tls and --starttls cannot be used together"))
	}
	changed := applyIMAPFlags(cmd)
	if cfg.Source.Type != config.SourceIMAP {
		cfg.Source.Type = config.SourceIMAP
		changed = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	icfg := imapConfig()
	password, err := tui.PromptPassword(fmt.Sprintf("Password for %s@%s", icfg.Username, icfg.Host))
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	fmt.Fprintf(out, "Testing connection to %s...\n", icfg.Addr())
	client := imapclient.NewClient(icfg, password, imapclient.WithLogger(logger))
	err = client.Check(cmd.Context())
	_ = client.Close()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	fmt.Fprintf(out, "Connected; mailbox %s is readable.\n", icfg.MailboxName())

	identifier := icfg.Identifier()
	if err := imapclient.SaveCredentials(cfg.CredentialsDir(), identifier, password); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	if changed {
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(out, "Configuration saved to %s\n", cfg.ConfigPath)
	}

	fmt.Fprintf(out, "\nIMAP mailbox added: %s\n", identifier)
	fmt.Fprintln(out, "You can now run: mailtracker sync")
	return nil
}
