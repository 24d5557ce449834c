//go:build !unix

package attachments

import "os"

// openNoFollow may follow reparse points here; callers only use the result
// to compare content.
func openNoFollow(path string) (*os.File, error) {
	return os.Open(path)
}
