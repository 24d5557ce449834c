// Package mime parses raw RFC 5322 messages with enmime for the sources
// that deliver whole messages (Gmail raw, IMAP, mbox).
package mime

import (
	"bytes"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/wesm/mailtracker/internal/textutil"
)

// Message is the part of a parsed message the tracker reports on.
type Message struct {
	Subject     string
	Date        time.Time // zero when the Date header is absent or unparseable
	From        Address
	To          []Address
	Cc          []Address
	MessageID   string
	Text        string
	HTML        string
	Attachments []Attachment
	header      func(string) string
}

// Address is an email address with its optional display name.
type Address struct {
	Name  string
	Email string
}

// Attachment is a decoded file part.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Parse parses raw MIME data.
func Parse(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Subject:   textutil.EnsureUTF8(env.GetHeader("Subject")),
		MessageID: strings.Trim(strings.TrimSpace(env.GetHeader("Message-ID")), "<>"),
		Text:      env.Text,
		HTML:      env.HTML,
		To:        addressList(env, "To"),
		Cc:        addressList(env, "Cc"),
		header:    env.GetHeader,
	}
	if from := addressList(env, "From"); len(from) > 0 {
		msg.From = from[0]
	}
	if d := env.GetHeader("Date"); d != "" {
		msg.Date = ParseDate(d)
	}

	for _, parts := range [][]*enmime.Part{env.Attachments, env.Inlines} {
		for _, p := range parts {
			if isBodyPart(p) {
				continue
			}
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    p.FileName,
				ContentType: p.ContentType,
				Content:     p.Content,
			})
		}
	}
	return msg, nil
}

// Header returns the decoded value of a header, "" when absent.
func (m *Message) Header(name string) string {
	if m.header == nil {
		return ""
	}
	return m.header(name)
}

// BodyText prefers the plain-text body and falls back to stripped HTML.
func (m *Message) BodyText() string {
	if strings.TrimSpace(m.Text) != "" {
		return m.Text
	}
	return StripHTML(m.HTML)
}

func addressList(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err != nil {
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		if a.Address == "" {
			continue
		}
		out = append(out, Address{Name: textutil.EnsureUTF8(a.Name), Email: a.Address})
	}
	return out
}

// isBodyPart reports whether an enmime part is an alternative body rather
// than a file: text/plain or text/html without a file name and without an
// explicit attachment disposition.
func isBodyPart(p *enmime.Part) bool {
	ct := strings.ToLower(p.ContentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct != "text/plain" && ct != "text/html" {
		return false
	}
	if p.FileName != "" {
		return false
	}
	disp := strings.ToLower(p.Disposition)
	if i := strings.IndexByte(disp, ';'); i >= 0 {
		disp = strings.TrimSpace(disp[:i])
	}
	return disp != "attachment"
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	time.UnixDate,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// ParseDate parses the Date header formats seen in real mail. A trailing
// comment such as "(PST)" is ignored. It returns the zero time when nothing
// matches.
func ParseDate(s string) time.Time {
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.LastIndexByte(s, '('); i > 0 {
		s = strings.TrimSpace(s[:i])
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var (
	dropTagRe  = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	blockTagRe = regexp.MustCompile(`(?i)</?(p|div|br|hr|h[1-6]|li|tr|td|th|blockquote|pre|table|ul|ol)[^>]*>`)
	anyTagRe   = regexp.MustCompile(`<[^>]*>`)
)

// StripHTML reduces an HTML body to plain text: script, style and head
// content dropped, block elements turned into line breaks, entities decoded
// and whitespace collapsed.
func StripHTML(s string) string {
	s = dropTagRe.ReplaceAllString(s, "")
	s = blockTagRe.ReplaceAllString(s, "\n")
	s = anyTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")

	lines := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
