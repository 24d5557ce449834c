package mail

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MockSource is a scripted Source for tests.
type MockSource struct {
	mu sync.Mutex

	// Pages are served in order; a page token is the index of the next page.
	Pages [][]*Message

	// Files returns attachments by message ID.
	Files map[string][]Attachment

	// Error injection
	ListError       error
	ListErrorOnPage int // page index that fails with ListError; -1 for every page
	AttachmentError map[string]error

	// Call tracking for assertions
	ListCalls       []ListOptions
	AttachmentCalls []string
	Closed          bool
}

// NewMockSource returns a mock serving pages.
func NewMockSource(pages ...[]*Message) *MockSource {
	return &MockSource{
		Pages:           pages,
		Files:           make(map[string][]Attachment),
		AttachmentError: make(map[string]error),
		ListErrorOnPage: -1,
	}
}

// Name implements Source.
func (m *MockSource) Name() string { return "mock" }

// ListMessages serves the scripted pages, dropping messages received before
// opts.Since.
func (m *MockSource) ListMessages(ctx context.Context, opts ListOptions) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls = append(m.ListCalls, opts)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := 0
	if opts.PageToken != "" {
		n, err := strconv.Atoi(opts.PageToken)
		if err != nil {
			return nil, fmt.Errorf("invalid page token: %s", opts.PageToken)
		}
		idx = n
	}
	if m.ListError != nil && (m.ListErrorOnPage < 0 || m.ListErrorOnPage == idx) {
		return nil, m.ListError
	}
	if idx >= len(m.Pages) {
		return &Page{}, nil
	}

	page := &Page{}
	for _, msg := range m.Pages[idx] {
		if opts.Since != nil && !msg.ReceivedAt.IsZero() && msg.ReceivedAt.Before(*opts.Since) {
			continue
		}
		page.Messages = append(page.Messages, msg)
	}
	if idx+1 < len(m.Pages) {
		page.NextPageToken = strconv.Itoa(idx + 1)
	}
	return page, nil
}

// Attachments implements Source.
func (m *MockSource) Attachments(ctx context.Context, msg *Message) ([]Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AttachmentCalls = append(m.AttachmentCalls, msg.ID)

	if err := m.AttachmentError[msg.ID]; err != nil {
		return nil, err
	}
	if msg.Attachments != nil {
		return msg.Attachments, nil
	}
	return m.Files[msg.ID], nil
}

// Close implements Source.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}
