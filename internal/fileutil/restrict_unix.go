//go:build !windows

package fileutil

import "os"

// restrict is a no-op on Unix; the mode passed to the create call already
// limits access.
func restrict(string, os.FileMode) error {
	return nil
}
