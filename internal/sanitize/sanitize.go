// Package sanitize turns arbitrary topic and attachment names into strings
// that are safe as a single path segment or as a workbook sheet name.
package sanitize

import (
	"strings"
	"unicode/utf8"
)

// MaxSheetName is the longest sheet name a workbook accepts, in characters.
const MaxSheetName = 31

// MaxSegmentBytes bounds a path segment well below the 255-byte name limit
// common to file systems.
const MaxSegmentBytes = 200

// maxKeptExt is the longest extension PathSegment keeps when it shortens a
// name.
const maxKeptExt = 16

// PathSegment replaces every character the host file system rejects in a
// file name with '_'. Empty or whitespace-only input becomes "file", and the
// relative names "." and ".." become "_" so the result never walks out of
// its parent directory. Results longer than MaxSegmentBytes are cut on a
// rune boundary, keeping a short extension.
func PathSegment(s string) string {
	if strings.TrimSpace(s) == "" {
		return "file"
	}
	out := limitBytes(strings.Map(func(r rune) rune {
		if invalidPathRune(r) {
			return '_'
		}
		return r
	}, s))
	if out == "." || out == ".." {
		return "_"
	}
	return out
}

// SheetName replaces the characters \ / * [ ] : ? with '_' and truncates the
// result to MaxSheetName characters. Empty or whitespace-only input becomes
// "Sheet".
func SheetName(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Sheet"
	}
	out := strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', '*', '[', ']', ':', '?':
			return '_'
		}
		return r
	}, s)
	if utf8.RuneCountInString(out) > MaxSheetName {
		out = string([]rune(out)[:MaxSheetName])
	}
	return out
}

func limitBytes(s string) string {
	if len(s) <= MaxSegmentBytes {
		return s
	}
	ext := ""
	if i := strings.LastIndexByte(s, '.'); i > 0 && len(s)-i <= maxKeptExt {
		ext = s[i:]
	}
	n := MaxSegmentBytes - len(ext)
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + ext
}
