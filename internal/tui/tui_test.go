package tui

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/wesm/mailtracker/internal/config"
	"github.com/wesm/mailtracker/internal/report"
	"github.com/wesm/mailtracker/internal/testutil"
)

var profileMu sync.Mutex

// withProfile pins the lipgloss colour profile for the duration of a test.
func withProfile(t *testing.T, p termenv.Profile) {
	t.Helper()
	profileMu.Lock()
	old := lipgloss.ColorProfile()
	lipgloss.SetColorProfile(p)
	t.Cleanup(func() {
		lipgloss.SetColorProfile(old)
		profileMu.Unlock()
	})
}

func sampleSummaries() []report.Summary {
	return []report.Summary{
		{
			Topic:           "Widget",
			TopicType:       report.TopicType,
			Total:           3,
			Unread:          1,
			WithAttachments: 2,
			Last7Days:       3,
			LatestDate:      time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local),
			LatestSender:    "Ann <ann@acme.com>",
			LatestSubject:   "[Widget] rev B",
		},
		{
			Topic:         "Acme Corp",
			TopicType:     report.TopicType,
			Total:         1,
			LatestSender:  "bob@acme-corp.com",
			LatestSubject: "hello",
		},
	}
}

func TestRenderOverview(t *testing.T) {
	withProfile(t, termenv.Ascii)

	out := RenderOverview(sampleSummaries(), OverviewOptions{Title: "Overview"})
	testutil.AssertContainsAll(t, out,
		"Overview", "Topic", "Unread", "Widget", "Acme Corp",
		"2024-03-01 09:30", "[Widget] rev B",
		"2 topics, 4 messages, 1 unread")
	if strings.Contains(out, "\x1b[") {
		t.Errorf("ascii profile produced escape codes:\n%s", out)
	}
}

func TestRenderOverview_Empty(t *testing.T) {
	withProfile(t, termenv.Ascii)

	out := RenderOverview(nil, OverviewOptions{})
	if !strings.Contains(out, "No topics yet") {
		t.Errorf("empty overview = %q", out)
	}
}

func TestRenderOverview_HighlightsUnread(t *testing.T) {
	withProfile(t, termenv.ANSI)

	out := RenderOverview(sampleSummaries(), OverviewOptions{})
	if !strings.Contains(out, "\x1b[") {
		t.Errorf("ANSI profile produced no escape codes:\n%s", out)
	}
}

func TestRenderOverview_TruncatesToWidth(t *testing.T) {
	withProfile(t, termenv.Ascii)

	s := sampleSummaries()[:1]
	s[0].Topic = "A very long project name that keeps going"
	out := RenderOverview(s, OverviewOptions{Width: 80})
	if strings.Contains(out, s[0].Topic) {
		t.Errorf("topic not truncated:\n%s", out)
	}
	if !strings.Contains(out, "A very...") {
		t.Errorf("missing truncated topic:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 0, ""},
		{"hello", 2, "he"},
		{"multi\nline  text", 20, "multi line text"},
		{"日本語のテキスト", 7, "日本..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestPadRight(t *testing.T) {
	if got := PadRight("日本", 6); got != "日本  " {
		t.Errorf("PadRight = %q", got)
	}
	if got := PadRight("toolong", 3); got != "toolong" {
		t.Errorf("PadRight = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{3*time.Minute + 5*time.Second, "3m 05s"},
		{time.Hour + 2*time.Minute + 10*time.Second, "1h 02m"},
		{1400 * time.Millisecond, "1s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestSetupValues_RoundTrip(t *testing.T) {
	cfg := config.NewDefaultConfig(t.TempDir())
	cfg.IMAP.Host = "mail.example.com"

	v := NewSetupValues(cfg)
	if v.SourceType != config.SourceGraph {
		t.Errorf("SourceType = %q", v.SourceType)
	}
	if v.IMAPPort != "993" || v.IMAPSecurity != SecurityTLS {
		t.Errorf("imap = %q %q", v.IMAPPort, v.IMAPSecurity)
	}

	v.SourceType = config.SourceIMAP
	v.IMAPPort = "143"
	v.IMAPSecurity = SecuritySTARTTLS
	v.IMAPUsername = " me@example.com "
	v.Cron = "*/30 * * * *"
	testutil.MustNoErr(t, v.Apply(cfg), "Apply")

	if cfg.Source.Type != config.SourceIMAP || cfg.IMAP.Port != 143 {
		t.Errorf("cfg = %+v", cfg.IMAP)
	}
	if cfg.IMAP.TLS || !cfg.IMAP.STARTTLS {
		t.Errorf("security not applied: %+v", cfg.IMAP)
	}
	if cfg.IMAP.Username != "me@example.com" {
		t.Errorf("Username = %q", cfg.IMAP.Username)
	}
	if !cfg.Schedule.Enabled {
		t.Error("schedule should be enabled")
	}
}

func TestSetupValues_ApplyErrors(t *testing.T) {
	cfg := config.NewDefaultConfig(t.TempDir())

	v := NewSetupValues(cfg)
	v.SourceType = config.SourceIMAP
	v.IMAPPort = "99999"
	if err := v.Apply(cfg); err == nil {
		t.Error("expected port error")
	}

	v.SourceType = "pop3"
	if err := v.Apply(cfg); err == nil {
		t.Error("expected source error")
	}
}

func TestParsePort(t *testing.T) {
	for in, want := range map[string]int{"": 0, "993": 993, " 143 ": 143} {
		got, err := ParsePort(in)
		if err != nil || got != want {
			t.Errorf("ParsePort(%q) = %d, %v", in, got, err)
		}
	}
	for _, in := range []string{"0", "abc", "70000"} {
		if _, err := ParsePort(in); err == nil {
			t.Errorf("ParsePort(%q) should fail", in)
		}
	}
}

func TestValidCron(t *testing.T) {
	if err := validCron(""); err != nil {
		t.Errorf("empty cron: %v", err)
	}
	if err := validCron("*/15 * * * *"); err != nil {
		t.Errorf("valid cron: %v", err)
	}
	if err := validCron("every minute"); err == nil {
		t.Error("expected error")
	}
}
