// Package imap reads one IMAP mailbox as a mail.Source.
package imap

import (
	"fmt"
	"net/url"
)

// DefaultMailbox is read when Config.Mailbox is empty.
const DefaultMailbox = "INBOX"

// Config holds connection settings for an IMAP server.
type Config struct {
	Host     string
	Port     int
	TLS      bool // implicit TLS, port 993
	STARTTLS bool // upgrade on port 143
	Username string
	Mailbox  string
}

func (c *Config) port() int {
	switch {
	case c.Port != 0:
		return c.Port
	case c.TLS:
		return 993
	default:
		return 143
	}
}

// Addr returns "host:port".
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.port())
}

// MailboxName returns the mailbox to read.
func (c *Config) MailboxName() string {
	if c.Mailbox == "" {
		return DefaultMailbox
	}
	return c.Mailbox
}

// Identifier returns a canonical "imaps://user@host:port" string used to
// key stored credentials.
func (c *Config) Identifier() string {
	scheme := "imap"
	if c.TLS {
		scheme = "imaps"
	}
	return fmt.Sprintf("%s://%s@%s:%d", scheme, url.PathEscape(c.Username), c.Host, c.port())
}
