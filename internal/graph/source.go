package graph

import (
	"context"
	"log/slog"

	"github.com/wesm/mailtracker/internal/mail"
)

// Source adapts a Client to mail.Source. Graph sorts and pages on the
// server, so the page token is the @odata.nextLink of the previous page.
type Source struct {
	client *Client
	logger *slog.Logger
}

// NewSource returns a source over client.
func NewSource(client *Client, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{client: client, logger: logger}
}

// Name implements mail.Source.
func (s *Source) Name() string {
	if s.client.userID == "" {
		return "graph:me"
	}
	return "graph:" + s.client.userID
}

// ListMessages implements mail.Source.
func (s *Source) ListMessages(ctx context.Context, opts mail.ListOptions) (*mail.Page, error) {
	var (
		page *MessagePage
		err  error
	)
	if opts.PageToken != "" {
		page, err = s.client.NextMessages(ctx, opts.PageToken)
	} else {
		page, err = s.client.ListMessages(ctx, MessageQuery{Since: opts.Since, Top: opts.PageSize})
	}
	if err != nil {
		return nil, err
	}

	out := &mail.Page{NextPageToken: page.NextLink}
	for i := range page.Value {
		out.Messages = append(out.Messages, convert(&page.Value[i]))
	}
	s.logger.Debug("graph page", "messages", len(out.Messages), "more", out.NextPageToken != "")
	return out, nil
}

// Attachments implements mail.Source. Item and reference attachments have
// no content and are left out.
func (s *Source) Attachments(ctx context.Context, msg *mail.Message) ([]mail.Attachment, error) {
	if msg.Attachments != nil {
		return msg.Attachments, nil
	}
	atts, err := s.client.ListAttachments(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	out := []mail.Attachment{}
	for _, a := range atts {
		if a.ODataType != FileAttachmentType || a.ContentBytes == nil {
			continue
		}
		out = append(out, mail.Attachment{Name: a.Name, ContentType: a.ContentType, Content: a.ContentBytes})
	}
	return out, nil
}

// Close implements mail.Source.
func (s *Source) Close() error { return nil }

func convert(m *Message) *mail.Message {
	msg := &mail.Message{
		ID:             m.ID,
		Subject:        m.Subject,
		To:             addresses(m.ToRecipients),
		Cc:             addresses(m.CcRecipients),
		IsRead:         m.IsRead,
		HasAttachments: m.HasAttachments,
		BodyPreview:    m.BodyPreview,
	}
	if m.From != nil {
		msg.From = mail.Address{Name: m.From.EmailAddress.Name, Email: m.From.EmailAddress.Address}
	}
	if m.ReceivedDateTime != nil {
		msg.ReceivedAt = m.ReceivedDateTime.UTC()
	}
	return msg
}

func addresses(rs []Recipient) []mail.Address {
	out := make([]mail.Address, 0, len(rs))
	for _, r := range rs {
		out = append(out, mail.Address{Name: r.EmailAddress.Name, Email: r.EmailAddress.Address})
	}
	return out
}

var _ mail.Source = (*Source)(nil)
