package email

import (
	"strings"
	"testing"
)

func TestPlainMessage(t *testing.T) {
	got := string(NewMessage().Subject("[Alpha] hello").Body("Hi.").Bytes())

	want := strings.Join([]string{
		"From: Alice Sender <alice@acme-corp.com>",
		"To: bob@example.com",
		"Subject: [Alpha] hello",
		"Date: Mon, 01 Jan 2024 12:00:00 +0000",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		"Hi.",
		"",
	}, "\r\n")
	if got != want {
		t.Errorf("plain message mismatch.\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestMultipartMessage(t *testing.T) {
	got := string(NewMessage().
		Header("Status", "RO").
		Attach("quote.pdf", "application/pdf", []byte("%PDF")).
		Bytes())

	for _, c := range []string{
		"Status: RO\r\n",
		`Content-Type: multipart/mixed; boundary="mailtracker-boundary"`,
		`Content-Disposition: attachment; filename="quote.pdf"`,
		"JVBERg==",
		"--mailtracker-boundary--",
	} {
		if !strings.Contains(got, c) {
			t.Errorf("multipart message missing %q\ngot:\n%s", c, got)
		}
	}
}
