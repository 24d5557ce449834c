// Package mbox reads an mbox export as an offline mail.Source.
//
// Messages are separated by Unix "From " lines. Body lines escaped as
// ">From " (or ">>From " and so on, mboxrd) lose one leading '>' on read.
package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrMessageTooLarge is returned for a message over the reader's limit. The
// reader stays usable and continues with the next message.
var ErrMessageTooLarge = errors.New("mbox message exceeds max size")

const maxLineBytes = 32 << 20

// Message is one entry of an mbox file.
type Message struct {
	// FromLine is the separator without its line ending.
	FromLine string
	// Raw is the RFC 5322 message without the separator.
	Raw []byte
}

// Date returns the date on the separator line, if it has one.
func (m *Message) Date() (time.Time, bool) {
	return ParseFromSeparatorDate(m.FromLine)
}

// Reader yields messages one at a time.
type Reader struct {
	br       *bufio.Reader
	pending  string // separator already read for the next message
	havePend bool
	done     bool
	maxBytes int64
}

// NewReader returns a reader with no size limit.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// SetMaxMessageBytes rejects messages larger than n bytes; n <= 0 disables
// the limit.
func (r *Reader) SetMaxMessageBytes(n int64) {
	r.maxBytes = n
}

// Next returns the next message or io.EOF.
func (r *Reader) Next() (*Message, error) {
	if r.done {
		return nil, io.EOF
	}
	for !r.havePend {
		line, err := r.readLine()
		if err != nil && err != io.EOF {
			return nil, err
		}
		if isSeparator(line) {
			r.pending, r.havePend = trimEOL(line), true
			break
		}
		if err == io.EOF {
			r.done = true
			return nil, io.EOF
		}
	}

	msg := &Message{FromLine: r.pending}
	r.havePend = false

	var raw bytes.Buffer
	tooLarge := false
	for {
		line, err := r.readLine()
		if err != nil && err != io.EOF {
			return nil, err
		}
		if isSeparator(line) {
			r.pending, r.havePend = trimEOL(line), true
			break
		}
		line = unescapeFrom(line)
		if r.maxBytes > 0 && int64(raw.Len()+len(line)) > r.maxBytes {
			tooLarge = true
		}
		if !tooLarge {
			raw.Write(line)
		}
		if err == io.EOF {
			r.done = true
			break
		}
	}
	if tooLarge {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrMessageTooLarge, r.maxBytes)
	}
	msg.Raw = raw.Bytes()
	return msg, nil
}

// readLine returns one line including its ending. Lines longer than the
// bufio buffer are assembled from several reads.
func (r *Reader) readLine() ([]byte, error) {
	var out []byte
	for {
		b, err := r.br.ReadSlice('\n')
		out = append(out, b...)
		if len(out) > maxLineBytes {
			return nil, fmt.Errorf("mbox line exceeds max length (%d bytes)", maxLineBytes)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return out, err
	}
}

func trimEOL(line []byte) string {
	return string(bytes.TrimRight(line, "\r\n"))
}

// isSeparator reports whether line is a "From " line with a parseable date.
func isSeparator(line []byte) bool {
	if !bytes.HasPrefix(line, []byte("From ")) {
		return false
	}
	_, ok := ParseFromSeparatorDate(trimEOL(line))
	return ok
}

// unescapeFrom drops one '>' from lines matching ^>+From .
func unescapeFrom(line []byte) []byte {
	rest := bytes.TrimLeft(line, ">")
	if len(rest) < len(line) && bytes.HasPrefix(rest, []byte("From ")) {
		return line[1:]
	}
	return line
}

// Validate reads up to maxBytes of r and reports an error unless a "From "
// separator is found.
func Validate(r io.Reader, maxBytes int64) error {
	br := bufio.NewReader(io.LimitReader(r, maxBytes))
	for {
		line, err := br.ReadBytes('\n')
		if isSeparator(line) {
			return nil
		}
		if err == io.EOF {
			return errors.New(`no "From " separators found (not an mbox file?)`)
		}
		if err != nil {
			return err
		}
	}
}
