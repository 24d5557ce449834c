package mbox

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/wesm/mailtracker/internal/testutil"
)

func readAll(t *testing.T, r *Reader) []*Message {
	t.Helper()
	var out []*Message
	for {
		m, err := r.Next()
		if err == io.EOF {
			return out
		}
		testutil.MustNoErr(t, err, "Next")
		out = append(out, m)
	}
}

func TestReader_SplitsAndUnescapes(t *testing.T) {
	data := strings.Join([]string{
		"From sender@example.com Mon Jan 1 00:00:00 2024",
		"Subject: One",
		"",
		">From should-unescape",
		">>From keep-one",
		"Normal",
		"",
		"From sender@example.com Mon Jan 1 00:00:01 2024",
		"Subject: Two",
		"",
		"Body2",
		"",
	}, "\n")

	msgs := readAll(t, NewReader(strings.NewReader(data)))

	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	testutil.AssertContainsAll(t, string(msgs[0].Raw), "\nFrom should-unescape\n", "\n>From keep-one\n")
	if strings.Contains(string(msgs[0].Raw), ">>From") {
		t.Errorf("one '>' should be removed:\n%s", msgs[0].Raw)
	}
	if !strings.HasPrefix(msgs[1].FromLine, "From sender@example.com") {
		t.Errorf("FromLine = %q", msgs[1].FromLine)
	}
	testutil.AssertContainsAll(t, string(msgs[1].Raw), "Subject: Two\n", "\n\nBody2\n")
}

func TestReader_BodyFromWithoutDateIsNotASeparator(t *testing.T) {
	data := "From a@b Mon Jan 1 00:00:00 2024\nSubject: x\n\nFrom here on we talk.\n"
	msgs := readAll(t, NewReader(strings.NewReader(data)))
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	testutil.AssertContainsAll(t, string(msgs[0].Raw), "From here on we talk.")
}

func TestReader_SkipsLeadingGarbage(t *testing.T) {
	data := "garbage line\n\nFrom a@b Mon Jan 1 00:00:00 2024\r\nSubject: x\r\n\r\nbody\r\n"
	msgs := readAll(t, NewReader(strings.NewReader(data)))
	if len(msgs) != 1 || msgs[0].FromLine != "From a@b Mon Jan 1 00:00:00 2024" {
		t.Fatalf("msgs = %+v", msgs)
	}
	if !strings.HasPrefix(string(msgs[0].Raw), "Subject: x\r\n") {
		t.Errorf("Raw = %q", msgs[0].Raw)
	}
}

func TestReader_LongLines(t *testing.T) {
	long := strings.Repeat("x", 100_000)
	data := "From a@b Mon Jan 1 00:00:00 2024\nSubject: long\n\n" + long + "\n"
	msgs := readAll(t, NewReader(strings.NewReader(data)))
	if len(msgs) != 1 || !strings.Contains(string(msgs[0].Raw), long) {
		t.Fatal("long line was not kept intact")
	}
}

func TestReader_MaxMessageBytesSkipsAndContinues(t *testing.T) {
	data := strings.Join([]string{
		"From a@b Mon Jan 1 00:00:00 2024",
		"Subject: big",
		"",
		strings.Repeat("y", 200),
		"From a@b Mon Jan 1 00:00:01 2024",
		"Subject: small",
		"",
		"ok",
		"",
	}, "\n")
	r := NewReader(strings.NewReader(data))
	r.SetMaxMessageBytes(100)

	if _, err := r.Next(); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("first Next = %v, want ErrMessageTooLarge", err)
	}
	m, err := r.Next()
	testutil.MustNoErr(t, err, "second Next")
	testutil.AssertContainsAll(t, string(m.Raw), "Subject: small")
}

func TestValidate(t *testing.T) {
	if err := Validate(strings.NewReader("From a@b Mon Jan 1 00:00:00 2024 remote from x\n"), 1024); err != nil {
		t.Errorf("Validate(mbox) = %v", err)
	}
	if err := Validate(strings.NewReader("Subject: not mbox\n\nbody\n"), 1024); err == nil {
		t.Error("Validate(plain message) succeeded")
	}
}

func TestParseFromSeparatorDate(t *testing.T) {
	tests := []struct {
		line string
		want time.Time
		ok   bool
	}{
		{"From a@b Mon Jan 1 00:00:00 2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"From a@b Mon Jan  1 00:00:00 2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"From a@b Mon Jan 1 00:00:00 -0700 2024", time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC), true},
		{"From a@b Mon Jan 1 00:00:00 PST 2024", time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), true},
		{"From a@b Mon Jan 1 00:00:00 2024 PST", time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), true},
		{"From a@b Mon Jan 1 00:00 2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"From a@b Jan 1 00:00:00 2024 remote from host", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"From here on we talk about things", time.Time{}, false},
		{"Subject: Mon Jan 1 00:00:00 2024", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseFromSeparatorDate(tt.line)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("ParseFromSeparatorDate(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}
