package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/wesm/mailtracker/internal/mail"
	"github.com/wesm/mailtracker/internal/mime"
)

// UnreadLabel marks unread messages.
const UnreadLabel = "UNREAD"

// Source adapts an API to mail.Source. Gmail lists newest first, so the
// first page of a run lists every matching ID and the pages handed to the
// tracker walk that list oldest first.
type Source struct {
	api     API
	account string
	logger  *slog.Logger
	ids     []string // ascending receive order
}

// NewSource returns a source over api. account only labels the source.
func NewSource(api API, account string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{api: api, account: account, logger: logger}
}

// Name implements mail.Source.
func (s *Source) Name() string {
	if s.account == "" {
		return "gmail"
	}
	return "gmail:" + s.account
}

// Query returns the Gmail search for messages received at or after since.
// after: takes epoch seconds and is exclusive, so the bound is moved back by
// one second; messages seen twice are dropped by ID.
func Query(since *time.Time) string {
	if since == nil {
		return ""
	}
	return "after:" + strconv.FormatInt(since.Unix()-1, 10)
}

// ListMessages implements mail.Source. The page token is an offset into the
// ID list gathered by the first call.
func (s *Source) ListMessages(ctx context.Context, opts mail.ListOptions) (*mail.Page, error) {
	offset := 0
	if opts.PageToken == "" {
		if err := s.collect(ctx, Query(opts.Since)); err != nil {
			return nil, err
		}
	} else {
		n, err := strconv.Atoi(opts.PageToken)
		if err != nil || n < 0 || n > len(s.ids) {
			return nil, fmt.Errorf("invalid page token %q", opts.PageToken)
		}
		offset = n
	}

	size := opts.PageSize
	if size <= 0 {
		size = 100
	}
	end := min(offset+size, len(s.ids))
	batch := s.ids[offset:end]

	raws, err := s.api.RawBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	page := &mail.Page{}
	for i, raw := range raws {
		if raw == nil {
			return nil, fmt.Errorf("fetch message %s failed", batch[i])
		}
		msg, err := convert(raw)
		if err != nil {
			return nil, err
		}
		page.Messages = append(page.Messages, msg)
	}
	// Raw fetches carry exact receive times; the list order is only
	// approximately chronological.
	slices.SortStableFunc(page.Messages, func(a, b *mail.Message) int {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	})
	if end < len(s.ids) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (s *Source) collect(ctx context.Context, query string) error {
	s.ids = s.ids[:0]
	pageToken := ""
	for {
		page, err := s.api.ListIDs(ctx, query, pageToken)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		s.ids = append(s.ids, page.IDs...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	slices.Reverse(s.ids)
	s.logger.Debug("gmail messages listed", "query", query, "count", len(s.ids))
	return nil
}

// Attachments implements mail.Source. Messages listed by this source carry
// their attachments already; others are fetched again.
func (s *Source) Attachments(ctx context.Context, msg *mail.Message) ([]mail.Attachment, error) {
	if msg.Attachments != nil {
		return msg.Attachments, nil
	}
	raw, err := s.api.Raw(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	full, err := convert(raw)
	if err != nil {
		return nil, err
	}
	return full.Attachments, nil
}

// Close implements mail.Source.
func (s *Source) Close() error {
	return s.api.Close()
}

func convert(raw *RawMessage) (*mail.Message, error) {
	parsed, err := mime.Parse(raw.MIME)
	if err != nil {
		return nil, fmt.Errorf("parse message %s: %w", raw.ID, err)
	}
	return mail.FromMIME(raw.ID, parsed, raw.Received, !raw.Unread()), nil
}

var _ mail.Source = (*Source)(nil)
