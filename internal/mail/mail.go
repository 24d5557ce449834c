// Package mail defines the provider-neutral view of a mailbox that the
// tracker consumes, and the Source interface every provider implements.
package mail

import (
	"context"
	"time"

	"github.com/wesm/mailtracker/internal/mime"
	"github.com/wesm/mailtracker/internal/textutil"
)

// PreviewLength matches the body preview length Microsoft Graph reports.
const PreviewLength = 255

// Address is a mailbox with its optional display name.
type Address struct {
	Name  string
	Email string
}

// Message is one mailbox entry as seen by the tracker.
type Message struct {
	ID             string
	Subject        string
	From           Address
	To             []Address
	Cc             []Address
	ReceivedAt     time.Time // zero when the provider did not report it
	IsRead         bool
	HasAttachments bool
	BodyPreview    string

	// Attachments is filled by sources that download whole messages.
	// Nil means Source.Attachments has to fetch them.
	Attachments []Attachment
}

// Attachment is a file attached to a message.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// ListOptions selects a page of messages.
type ListOptions struct {
	// Since, when set, limits results to messages received at or after it.
	Since     *time.Time
	PageSize  int
	PageToken string
}

// Page is one batch of messages in ascending receive order.
type Page struct {
	Messages      []*Message
	NextPageToken string // "" on the last page
}

// Source is a mailbox the tracker pulls from.
type Source interface {
	// Name identifies the source in logs and run history.
	Name() string

	// ListMessages returns one page of messages. Pass the previous page's
	// NextPageToken to continue.
	ListMessages(ctx context.Context, opts ListOptions) (*Page, error)

	// Attachments returns the file attachments of msg.
	Attachments(ctx context.Context, msg *Message) ([]Attachment, error)

	// Close releases connections held by the source.
	Close() error
}

// Emails returns the bare addresses of list.
func Emails(list []Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Email)
	}
	return out
}

// FromMIME builds a Message from a parsed RFC 5322 message. Sources that
// know the server-side receive time pass it as received; otherwise the Date
// header is used.
func FromMIME(id string, m *mime.Message, received time.Time, read bool) *Message {
	if received.IsZero() {
		received = m.Date
	}
	msg := &Message{
		ID:          id,
		Subject:     m.Subject,
		From:        Address(m.From),
		To:          convert(m.To),
		Cc:          convert(m.Cc),
		ReceivedAt:  received,
		IsRead:      read,
		BodyPreview: textutil.Preview(m.BodyText(), PreviewLength),
		Attachments: []Attachment{},
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, Attachment{
			Name:        a.Filename,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}
	msg.HasAttachments = len(msg.Attachments) > 0
	return msg
}

func convert(list []mime.Address) []Address {
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address(a))
	}
	return out
}
