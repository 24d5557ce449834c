//go:build !windows

package sanitize

func invalidPathRune(r rune) bool {
	return r == '/' || r == 0
}
