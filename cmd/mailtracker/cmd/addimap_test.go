package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/wesm/mailtracker/internal/config"
	"github.com/wesm/mailtracker/internal/testutil"
)

func newIMAPFlagsCmd() *cobra.Command {
	c := &cobra.Command{Use: "add-imap"}
	c.Flags().StringVar(&imapHost, "host", "", "")
	c.Flags().IntVar(&imapPort, "port", 0, "")
	c.Flags().StringVar(&imapUsername, "username", "", "")
	c.Flags().StringVar(&imapMailbox, "mailbox", "", "")
	c.Flags().BoolVar(&imapNoTLS, "no-tls", false, "")
	c.Flags().BoolVar(&imapSTARTTLS, "starttls", false, "")
	return c
}

func TestApplyIMAPFlags(t *testing.T) {
	saved := cfg
	t.Cleanup(func() { cfg = saved })
	cfg = config.NewDefaultConfig(t.TempDir())
	cfg.IMAP.Username = "keep@example.com"

	c := newIMAPFlagsCmd()
	testutil.MustNoErr(t, c.Flags().Set("host", "mail.example.com"), "set host")
	testutil.MustNoErr(t, c.Flags().Set("starttls", "true"), "set starttls")

	if !applyIMAPFlags(c) {
		t.Fatal("expected a change")
	}
	if cfg.IMAP.Host != "mail.example.com" {
		t.Errorf("Host = %q", cfg.IMAP.Host)
	}
	if cfg.IMAP.TLS || !cfg.IMAP.STARTTLS {
		t.Errorf("TLS=%v STARTTLS=%v", cfg.IMAP.TLS, cfg.IMAP.STARTTLS)
	}
	if cfg.IMAP.Username != "keep@example.com" {
		t.Errorf("unset flag overwrote Username: %q", cfg.IMAP.Username)
	}
	if cfg.IMAP.Port != 993 {
		t.Errorf("unset flag overwrote Port: %d", cfg.IMAP.Port)
	}
}

func TestApplyIMAPFlags_NoneSet(t *testing.T) {
	saved := cfg
	t.Cleanup(func() { cfg = saved })
	cfg = config.NewDefaultConfig(t.TempDir())

	if applyIMAPFlags(newIMAPFlagsCmd()) {
		t.Error("no flags set but a change was reported")
	}
}

func TestPrintNextSteps(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{config.SourceGraph, "mailtracker add-account"},
		{config.SourceGmail, "mailtracker add-account"},
		{config.SourceIMAP, "mailtracker add-imap"},
		{config.SourceMbox, "1. Sync your mailbox"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		printNextSteps(&buf, tt.source)
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("%s: missing %q in:\n%s", tt.source, tt.want, buf.String())
		}
	}
}
