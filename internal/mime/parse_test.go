package mime

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wesm/mailtracker/internal/testutil"
	"github.com/wesm/mailtracker/internal/testutil/email"
)

func mustParse(t *testing.T, raw []byte) *Message {
	t.Helper()
	msg, err := Parse(raw)
	testutil.MustNoErr(t, err, "Parse")
	return msg
}

func TestParse_Headers(t *testing.T) {
	raw := email.NewMessage().
		From(`"Alice Sender" <alice@acme-corp.com>`).
		To("bob@example.com, Carol <carol@globex.com>").
		Cc("dave@globex.com").
		Subject("[Alpha] kickoff").
		MessageID("<abc123@acme-corp.com>").
		Header("Status", "RO").
		Body("Hello team").
		Bytes()

	msg := mustParse(t, raw)

	if msg.Subject != "[Alpha] kickoff" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if diff := cmp.Diff(Address{Name: "Alice Sender", Email: "alice@acme-corp.com"}, msg.From); diff != "" {
		t.Errorf("From mismatch (-want +got):\n%s", diff)
	}
	wantTo := []Address{{Email: "bob@example.com"}, {Name: "Carol", Email: "carol@globex.com"}}
	if diff := cmp.Diff(wantTo, msg.To); diff != "" {
		t.Errorf("To mismatch (-want +got):\n%s", diff)
	}
	if len(msg.Cc) != 1 || msg.Cc[0].Email != "dave@globex.com" {
		t.Errorf("Cc = %+v", msg.Cc)
	}
	if msg.MessageID != "abc123@acme-corp.com" {
		t.Errorf("MessageID = %q", msg.MessageID)
	}
	if got := msg.Header("Status"); got != "RO" {
		t.Errorf("Header(Status) = %q", got)
	}
	if !msg.Date.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v", msg.Date)
	}
	if got := strings.TrimSpace(msg.BodyText()); got != "Hello team" {
		t.Errorf("BodyText = %q", got)
	}
}

func TestParse_Attachments(t *testing.T) {
	raw := email.NewMessage().
		Body("See attached").
		Attach("quote.pdf", "application/pdf", []byte("%PDF-1.4")).
		Attach("notes.txt", "text/plain", []byte("plain file")).
		Bytes()

	msg := mustParse(t, raw)

	if len(msg.Attachments) != 2 {
		t.Fatalf("got %d attachments, want 2", len(msg.Attachments))
	}
	if a := msg.Attachments[0]; a.Filename != "quote.pdf" || string(a.Content) != "%PDF-1.4" {
		t.Errorf("attachment[0] = %q %q", a.Filename, a.Content)
	}
	if a := msg.Attachments[1]; a.Filename != "notes.txt" || string(a.Content) != "plain file" {
		t.Errorf("attachment[1] = %q %q", a.Filename, a.Content)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"RFC1123Z", "Mon, 02 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"single digit day", "Tue, 3 Jan 2006 09:00:00 +0100", time.Date(2006, 1, 3, 8, 0, 0, 0, time.UTC)},
		{"no weekday", "02 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"comment zone", "Mon, 02 Jan 2006 15:04:05 -0700 (PST)", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"extra spaces", "Mon,  02 Jan 2006   15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"ISO 8601", "2024-05-01T10:30:00Z", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		{"garbage", "not a date", time.Time{}},
		{"empty", "", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseDate(tt.input); !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"paragraphs", "<p>Hello</p><p>World</p>", "Hello\nWorld"},
		{"entities", "Tom &amp; Jerry&nbsp;Inc", "Tom & Jerry Inc"},
		{"script dropped", "<script>alert(1)</script>Visible", "Visible"},
		{"style and head", "<head><title>x</title></head><style>p{}</style><div>Body</div>", "Body"},
		{"whitespace", "<div>  lots   of\tspace </div>", "lots of space"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.in); got != tt.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBodyText_FallsBackToHTML(t *testing.T) {
	msg := &Message{HTML: "<p>PRJ-7 status</p>"}
	if got := msg.BodyText(); got != "PRJ-7 status" {
		t.Errorf("BodyText = %q", got)
	}
}
