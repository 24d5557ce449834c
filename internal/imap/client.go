package imap

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/wesm/mailtracker/internal/mail"
	"github.com/wesm/mailtracker/internal/mime"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client reads one mailbox. Messages are fetched with BODY.PEEK so the sync
// never marks them seen.
type Client struct {
	config   *Config
	password string
	logger   *slog.Logger

	mu   sync.Mutex
	conn *imapclient.Client
	uids []imap.UID // listed by the first page of a run, ascending
}

// NewClient returns a client; the connection is opened on first use.
func NewClient(cfg *Config, password string, opts ...Option) *Client {
	c := &Client{config: cfg, password: password, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements mail.Source.
func (c *Client) Name() string {
	return c.config.Identifier() + "/" + c.config.MailboxName()
}

// connect must be called with mu held.
func (c *Client) connect() error {
	if c.conn != nil {
		return nil
	}
	addr := c.config.Addr()
	c.logger.Debug("connecting to IMAP server", "addr", addr, "tls", c.config.TLS, "starttls", c.config.STARTTLS)

	var (
		conn *imapclient.Client
		err  error
	)
	switch {
	case c.config.TLS:
		conn, err = imapclient.DialTLS(addr, nil)
	case c.config.STARTTLS:
		conn, err = imapclient.DialStartTLS(addr, nil)
	default:
		conn, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}
	if err := conn.Login(c.config.Username, c.password).Wait(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("IMAP login: %w", err)
	}
	if _, err := conn.Select(c.config.MailboxName(), &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("SELECT %q: %w", c.config.MailboxName(), err)
	}
	c.conn = conn
	return nil
}

// Check connects, logs in and selects the mailbox.
func (c *Client) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect()
}

// SearchCriteria returns the UID SEARCH criteria for a run. SINCE compares
// against the calendar date of each INTERNALDATE in its own zone, which can
// be a day behind UTC, so the search starts one day before the mark's UTC
// date. Earlier messages it returns are filtered after the fetch.
func SearchCriteria(since *time.Time) *imap.SearchCriteria {
	if since == nil {
		return &imap.SearchCriteria{}
	}
	y, m, d := since.UTC().Date()
	return &imap.SearchCriteria{Since: time.Date(y, m, d-1, 0, 0, 0, 0, time.UTC)}
}

// ListMessages implements mail.Source. The page token is an offset into the
// UIDs found by the first call.
func (c *Client) ListMessages(ctx context.Context, opts mail.ListOptions) (*mail.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(); err != nil {
		return nil, err
	}

	offset := 0
	if opts.PageToken == "" {
		data, err := c.conn.UIDSearch(SearchCriteria(opts.Since), &imap.SearchOptions{ReturnAll: true}).Wait()
		if err != nil {
			return nil, fmt.Errorf("UID SEARCH: %w", err)
		}
		c.uids = nil
		if set, ok := data.All.(imap.UIDSet); ok {
			c.uids, _ = set.Nums()
		}
		slices.Sort(c.uids)
		c.logger.Debug("imap messages listed", "mailbox", c.config.MailboxName(), "count", len(c.uids))
	} else {
		n, err := strconv.Atoi(opts.PageToken)
		if err != nil || n < 0 || n > len(c.uids) {
			return nil, fmt.Errorf("invalid page token %q", opts.PageToken)
		}
		offset = n
	}

	size := opts.PageSize
	if size <= 0 {
		size = 100
	}
	end := min(offset+size, len(c.uids))
	page := &mail.Page{}
	if end < len(c.uids) {
		page.NextPageToken = strconv.Itoa(end)
	}
	if offset == end {
		return page, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var set imap.UIDSet
	for _, uid := range c.uids[offset:end] {
		set.AddNum(uid)
	}
	bufs, err := c.conn.Fetch(set, &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{Peek: true}},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("UID FETCH: %w", err)
	}

	for _, buf := range bufs {
		var raw []byte
		if len(buf.BodySection) > 0 {
			raw = buf.BodySection[0].Bytes
		}
		msg, err := c.convert(buf.UID, raw, buf.InternalDate, buf.Flags)
		if err != nil {
			return nil, err
		}
		if opts.Since != nil && !msg.ReceivedAt.IsZero() && msg.ReceivedAt.Before(*opts.Since) {
			continue
		}
		page.Messages = append(page.Messages, msg)
	}
	slices.SortStableFunc(page.Messages, func(a, b *mail.Message) int {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	})
	return page, nil
}

func (c *Client) convert(uid imap.UID, raw []byte, internal time.Time, flags []imap.Flag) (*mail.Message, error) {
	id := MessageID(c.config.MailboxName(), uid)
	parsed, err := mime.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse message %s: %w", id, err)
	}
	return mail.FromMIME(id, parsed, internal, slices.Contains(flags, imap.FlagSeen)), nil
}

// Attachments implements mail.Source; fetched messages carry them already.
func (c *Client) Attachments(ctx context.Context, msg *mail.Message) ([]mail.Attachment, error) {
	if msg.Attachments == nil {
		return nil, fmt.Errorf("message %s was not fetched by this source", msg.ID)
	}
	return msg.Attachments, nil
}

// Close logs out.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	return conn.Logout().Wait()
}

// MessageID builds the message identifier "mailbox|uid".
func MessageID(mailbox string, uid imap.UID) string {
	return mailbox + "|" + strconv.FormatUint(uint64(uid), 10)
}

var _ mail.Source = (*Client)(nil)
