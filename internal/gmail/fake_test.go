package gmail

import (
	"context"
	"sync"
	"time"
)

// fakeAPI serves canned messages. pages lists IDs newest first, one slice
// per messages.list page.
type fakeAPI struct {
	mu       sync.Mutex
	pages    [][]string
	messages map[string]*RawMessage

	listErr  error
	fetchErr map[string]error

	listCalls  int
	lastQuery  string
	rawFetches []string // IDs passed to Raw, not RawBatch
	closed     bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{messages: map[string]*RawMessage{}, fetchErr: map[string]error{}}
}

func (f *fakeAPI) add(id string, mime []byte, received time.Time, labels ...string) {
	f.messages[id] = &RawMessage{ID: id, MIME: mime, Received: received, Labels: labels}
}

func (f *fakeAPI) Profile(context.Context) (*Profile, error) {
	return &Profile{EmailAddress: "me@example.com"}, nil
}

func (f *fakeAPI) ListIDs(_ context.Context, query, pageToken string) (*IDPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.lastQuery = query
	if f.listErr != nil {
		return nil, f.listErr
	}
	n := 0
	if pageToken != "" {
		n = int(pageToken[0] - '0')
	}
	if n >= len(f.pages) {
		return &IDPage{}, nil
	}
	page := &IDPage{IDs: f.pages[n]}
	if n+1 < len(f.pages) {
		page.NextPageToken = string(rune('0' + n + 1))
	}
	return page, nil
}

func (f *fakeAPI) fetch(id string) (*RawMessage, error) {
	if err := f.fetchErr[id]; err != nil {
		return nil, err
	}
	m, ok := f.messages[id]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + id}
	}
	return m, nil
}

func (f *fakeAPI) Raw(_ context.Context, id string) (*RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawFetches = append(f.rawFetches, id)
	return f.fetch(id)
}

func (f *fakeAPI) RawBatch(_ context.Context, ids []string) ([]*RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*RawMessage, len(ids))
	for i, id := range ids {
		out[i], _ = f.fetch(id)
	}
	return out, nil
}

func (f *fakeAPI) Close() error {
	f.closed = true
	return nil
}

var _ API = (*fakeAPI)(nil)
