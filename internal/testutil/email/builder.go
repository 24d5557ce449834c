// Package email builds raw RFC 5322 messages for source and parser tests.
package email

import (
	"encoding/base64"
	"fmt"
	"strings"
)

type attachment struct {
	name        string
	contentType string
	data        []byte
}

// MessageBuilder constructs MIME messages with a fluent API. Lines end in
// \r\n.
type MessageBuilder struct {
	from, to, cc string
	subject      string
	date         string
	messageID    string
	body         string
	extra        [][2]string
	attachments  []attachment
}

// NewMessage returns a builder with a plain-text body and fixed date.
func NewMessage() *MessageBuilder {
	return &MessageBuilder{
		from:    "Alice Sender <alice@acme-corp.com>",
		to:      "bob@example.com",
		subject: "Test Message",
		date:    "Mon, 01 Jan 2024 12:00:00 +0000",
		body:    "This is a test message body.",
	}
}

func (b *MessageBuilder) From(v string) *MessageBuilder      { b.from = v; return b }
func (b *MessageBuilder) To(v string) *MessageBuilder        { b.to = v; return b }
func (b *MessageBuilder) Cc(v string) *MessageBuilder        { b.cc = v; return b }
func (b *MessageBuilder) Subject(v string) *MessageBuilder   { b.subject = v; return b }
func (b *MessageBuilder) Date(v string) *MessageBuilder      { b.date = v; return b }
func (b *MessageBuilder) MessageID(v string) *MessageBuilder { b.messageID = v; return b }
func (b *MessageBuilder) Body(v string) *MessageBuilder      { b.body = v; return b }

// Header appends an arbitrary header, e.g. Status for mbox read flags.
func (b *MessageBuilder) Header(key, value string) *MessageBuilder {
	b.extra = append(b.extra, [2]string{key, value})
	return b
}

// Attach adds a base64 attachment part; the message becomes multipart/mixed.
func (b *MessageBuilder) Attach(name, contentType string, data []byte) *MessageBuilder {
	b.attachments = append(b.attachments, attachment{name, contentType, data})
	return b
}

// Bytes renders the message.
func (b *MessageBuilder) Bytes() []byte {
	const nl = "\r\n"
	var s strings.Builder
	header := func(k, v string) {
		if v != "" {
			s.WriteString(k + ": " + v + nl)
		}
	}

	header("From", b.from)
	header("To", b.to)
	header("Cc", b.cc)
	header("Subject", b.subject)
	header("Date", b.date)
	header("Message-ID", b.messageID)
	for _, kv := range b.extra {
		header(kv[0], kv[1])
	}

	if len(b.attachments) == 0 {
		s.WriteString(`Content-Type: text/plain; charset="utf-8"` + nl + nl)
		s.WriteString(b.body + nl)
		return []byte(s.String())
	}

	const boundary = "mailtracker-boundary"
	s.WriteString("MIME-Version: 1.0" + nl)
	fmt.Fprintf(&s, "Content-Type: multipart/mixed; boundary=%q%s%s", boundary, nl, nl)
	s.WriteString("--" + boundary + nl)
	s.WriteString(`Content-Type: text/plain; charset="utf-8"` + nl + nl)
	s.WriteString(b.body + nl)
	for _, a := range b.attachments {
		ct := a.contentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		s.WriteString("--" + boundary + nl)
		fmt.Fprintf(&s, "Content-Type: %s; name=%q%s", ct, a.name, nl)
		fmt.Fprintf(&s, "Content-Disposition: attachment; filename=%q%s", a.name, nl)
		s.WriteString("Content-Transfer-Encoding: base64" + nl + nl)
		s.WriteString(base64.StdEncoding.EncodeToString(a.data) + nl)
	}
	s.WriteString("--" + boundary + "--" + nl)
	return []byte(s.String())
}
