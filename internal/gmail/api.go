// Package gmail reads a Gmail mailbox through the REST API and exposes it as
// a mail.Source.
package gmail

import (
	"context"
	"slices"
	"time"
)

// API is the part of the Gmail REST API the tracker calls.
type API interface {
	// Profile returns the address of the authenticated mailbox.
	Profile(ctx context.Context) (*Profile, error)

	// ListIDs returns one page of message IDs matching query, newest first.
	ListIDs(ctx context.Context, query, pageToken string) (*IDPage, error)

	// Raw fetches one message in format=raw.
	Raw(ctx context.Context, id string) (*RawMessage, error)

	// RawBatch fetches ids concurrently. Results keep the order of ids; a
	// failed fetch leaves a nil entry.
	RawBatch(ctx context.Context, ids []string) ([]*RawMessage, error)

	Close() error
}

// Profile is the authenticated mailbox.
type Profile struct {
	EmailAddress string
}

// IDPage is one page of a messages.list call.
type IDPage struct {
	IDs           []string
	NextPageToken string
}

// RawMessage is a message fetched with format=raw.
type RawMessage struct {
	ID       string
	Labels   []string
	Received time.Time // internalDate; zero when Gmail sent none
	MIME     []byte    // decoded from base64url
}

// Unread reports whether the message carries the UNREAD label.
func (m *RawMessage) Unread() bool {
	return slices.Contains(m.Labels, UnreadLabel)
}
