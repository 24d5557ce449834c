//go:build windows

package sanitize

func invalidPathRune(r rune) bool {
	if r < 32 {
		return true
	}
	switch r {
	case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
		return true
	}
	return false
}
