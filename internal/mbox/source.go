package mbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/wesm/mailtracker/internal/mail"
	"github.com/wesm/mailtracker/internal/mime"
)

// DefaultMaxMessageBytes skips messages over 64 MiB.
const DefaultMaxMessageBytes = 64 << 20

// sniffBytes is how far into the file the first separator must appear.
const sniffBytes = 1 << 20

// Source serves the messages of an mbox file. The file is read once, on the
// first page of a run.
type Source struct {
	path   string
	logger *slog.Logger

	msgs []*mail.Message // filtered by since, ascending by receive time
}

// NewSource returns a source over the mbox file at path.
func NewSource(path string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{path: path, logger: logger}
}

// Name implements mail.Source.
func (s *Source) Name() string {
	return "mbox:" + filepath.Base(s.path)
}

// ListMessages implements mail.Source. The page token is an offset.
func (s *Source) ListMessages(ctx context.Context, opts mail.ListOptions) (*mail.Page, error) {
	offset := 0
	if opts.PageToken == "" {
		msgs, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		s.msgs = s.msgs[:0]
		for _, m := range msgs {
			if opts.Since != nil && !m.ReceivedAt.IsZero() && m.ReceivedAt.Before(*opts.Since) {
				continue
			}
			s.msgs = append(s.msgs, m)
		}
		slices.SortStableFunc(s.msgs, func(a, b *mail.Message) int {
			return a.ReceivedAt.Compare(b.ReceivedAt)
		})
	} else {
		n, err := strconv.Atoi(opts.PageToken)
		if err != nil || n < 0 || n > len(s.msgs) {
			return nil, fmt.Errorf("invalid page token %q", opts.PageToken)
		}
		offset = n
	}

	size := opts.PageSize
	if size <= 0 {
		size = 100
	}
	end := min(offset+size, len(s.msgs))
	page := &mail.Page{Messages: s.msgs[offset:end]}
	if end < len(s.msgs) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (s *Source) load(ctx context.Context) ([]*mail.Message, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		if err := Validate(f, sniffBytes); err != nil {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind mbox: %w", err)
		}
	}

	r := NewReader(f)
	r.SetMaxMessageBytes(DefaultMaxMessageBytes)

	var out []*mail.Message
	for n := 0; ; n++ {
		if n%500 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw, err := r.Next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, ErrMessageTooLarge) {
			s.logger.Warn("skipping oversized mbox message", "index", n, "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read mbox: %w", err)
		}
		msg, err := convert(raw)
		if err != nil {
			s.logger.Warn("skipping unparseable mbox message", "index", n, "error", err)
			continue
		}
		out = append(out, msg)
	}
	s.logger.Debug("mbox loaded", "path", s.path, "messages", len(out))
	return out, nil
}

func convert(raw *Message) (*mail.Message, error) {
	parsed, err := mime.Parse(raw.Raw)
	if err != nil {
		return nil, err
	}
	received := parsed.Date
	if received.IsZero() {
		received, _ = raw.Date()
	}
	return mail.FromMIME(MessageID(parsed, raw.Raw), parsed, received, IsRead(parsed.Header("Status"))), nil
}

// MessageID returns the Message-ID header, or a content hash for messages
// without one.
func MessageID(m *mime.Message, raw []byte) string {
	if m.MessageID != "" {
		return m.MessageID
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:16])
}

// IsRead interprets the Status header written by mail clients: "R" means
// read, "O" only means old.
func IsRead(status string) bool {
	return strings.ContainsRune(status, 'R')
}

// Attachments implements mail.Source; loaded messages carry them.
func (s *Source) Attachments(ctx context.Context, msg *mail.Message) ([]mail.Attachment, error) {
	if msg.Attachments == nil {
		return nil, fmt.Errorf("message %s was not loaded from %s", msg.ID, s.path)
	}
	return msg.Attachments, nil
}

// Close implements mail.Source.
func (s *Source) Close() error {
	s.msgs = nil
	return nil
}

var _ mail.Source = (*Source)(nil)
