// Package attachments saves message attachments under the output root,
// grouped by topic and by the local date the message was received.
package attachments

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/wesm/mailtracker/internal/fileutil"
	"github.com/wesm/mailtracker/internal/sanitize"
)

// DefaultName is used for attachments that arrive without a file name.
const DefaultName = "attachment"

// Store writes attachments below Root.
type Store struct {
	Root string
}

// New returns a store rooted at dir.
func New(dir string) *Store {
	return &Store{Root: dir}
}

// Dir returns the folder holding attachments of topic received on day.
func (s *Store) Dir(topic string, day time.Time) string {
	return filepath.Join(s.Root, sanitize.PathSegment(topic), day.Local().Format("2006-01-02"))
}

// Save writes content as <Root>/<topic>/<YYYY-MM-DD>/<name> and returns the
// full path. A file of the same name is replaced, so repeating a save after
// an interrupted run is harmless; identical content is left untouched.
func (s *Store) Save(topic string, day time.Time, name string, content []byte) (string, error) {
	if name == "" {
		name = DefaultName
	}
	dir := s.Dir(topic, day)
	if err := fileutil.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}
	path := filepath.Join(dir, sanitize.PathSegment(name))

	if same, err := sameContent(path, content); err == nil && same {
		return path, nil
	}
	if err := fileutil.WriteFileAtomic(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write attachment %s: %w", path, err)
	}
	return path, nil
}

// sameContent compares the file at path with content without following a
// symlink in the last path component.
func sameContent(path string, content []byte) (bool, error) {
	f, err := openNoFollow(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return false, err
	}
	if !st.Mode().IsRegular() || st.Size() != int64(len(content)) {
		return false, nil
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	want := sha256.Sum256(content)
	return bytes.Equal(h.Sum(nil), want[:]), nil
}
