// Package textutil repairs and shortens header and body text before it is
// classified or written to the workbook.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

var charsets = map[string]encoding.Encoding{
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-2":   charmap.ISO8859_2,
	"iso-8859-15":  charmap.ISO8859_15,
	"koi8-r":       charmap.KOI8R,
	"koi8-u":       charmap.KOI8U,
	"shift_jis":    japanese.ShiftJIS,
	"euc-jp":       japanese.EUCJP,
	"iso-2022-jp":  japanese.ISO2022JP,
	"euc-kr":       korean.EUCKR,
	"gb2312":       simplifiedchinese.GBK,
	"gbk":          simplifiedchinese.GBK,
	"gb18030":      simplifiedchinese.GB18030,
	"big5":         traditionalchinese.Big5,
}

// Western single-byte charsets come first: they cover the bulk of mis-labelled
// business mail.
var fallbacks = []encoding.Encoding{
	charmap.Windows1252,
	charmap.ISO8859_1,
	japanese.ShiftJIS,
	korean.EUCKR,
	simplifiedchinese.GBK,
	traditionalchinese.Big5,
}

// Charset returns the decoder for an IANA charset name, or nil.
func Charset(name string) encoding.Encoding {
	return charsets[strings.ToLower(strings.TrimSpace(name))]
}

// EnsureUTF8 returns s unchanged when it is valid UTF-8. Otherwise it tries
// the detected charset, then a fixed list of common ones, and finally
// replaces invalid bytes with U+FFFD.
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	data := []byte(s)

	minConfidence := 30
	if len(data) > 50 {
		minConfidence = 50
	}
	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil && res.Confidence >= minConfidence {
		if enc := Charset(res.Charset); enc != nil {
			if out, ok := decode(enc, data); ok {
				return out
			}
		}
	}

	for _, enc := range fallbacks {
		if out, ok := decode(enc, data); ok {
			return out
		}
	}
	return strings.ToValidUTF8(s, "�")
}

func decode(enc encoding.Encoding, data []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}

// TruncateRunes shortens s to at most max runes, ending in "..." when cut.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// FirstLine returns the first non-empty line of s.
func FirstLine(s string) string {
	s = strings.TrimLeft(s, "\r\n")
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// Preview collapses runs of whitespace in body text and cuts the result to
// max runes, matching the short body preview mail servers report.
func Preview(body string, max int) string {
	body = EnsureUTF8(body)
	var b strings.Builder
	space := false
	for _, r := range body {
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	out := []rune(b.String())
	if len(out) > max {
		out = out[:max]
	}
	return string(out)
}
