package attachments

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/wesm/mailtracker/internal/sanitize"
	"github.com/wesm/mailtracker/internal/testutil"
)

func TestSave_Layout(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	day := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

	path, err := s.Save("PRJ-42", day, "quote.pdf", []byte("pdf"))
	testutil.MustNoErr(t, err, "Save")

	want := filepath.Join(root, "PRJ-42", "2024-05-01", "quote.pdf")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if got := string(testutil.ReadFile(t, path)); got != "pdf" {
		t.Errorf("content = %q", got)
	}
}

func TestSave_SanitizesNames(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	day := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

	path, err := s.Save("A/B", day, "../evil.txt", []byte("x"))
	testutil.MustNoErr(t, err, "Save")
	rel, err := filepath.Rel(root, path)
	testutil.MustNoErr(t, err, "Rel")
	if filepath.Dir(filepath.Dir(rel)) != "A_B" {
		t.Errorf("topic dir in %q, want A_B", rel)
	}
	if filepath.Base(path) != ".._evil.txt" {
		t.Errorf("file name = %q", filepath.Base(path))
	}

	path, err = s.Save("", day, "", []byte("y"))
	testutil.MustNoErr(t, err, "Save unnamed")
	if filepath.Base(path) != DefaultName {
		t.Errorf("unnamed attachment saved as %q", filepath.Base(path))
	}
	if filepath.Base(filepath.Dir(filepath.Dir(path))) != "file" {
		t.Errorf("empty topic dir = %q", path)
	}
}

func TestSave_LongNames(t *testing.T) {
	root := t.TempDir()
	day := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	topic := strings.Repeat("ü", 140)
	name := strings.Repeat("項", 90) + ".pdf"

	path, err := New(root).Save(topic, day, name, []byte("pdf"))
	testutil.MustNoErr(t, err, "Save")
	if got := string(testutil.ReadFile(t, path)); got != "pdf" {
		t.Errorf("content = %q", got)
	}
	if base := filepath.Base(path); len(base) > sanitize.MaxSegmentBytes || !strings.HasSuffix(base, ".pdf") {
		t.Errorf("file name = %q", base)
	}
	if dir := filepath.Base(filepath.Dir(filepath.Dir(path))); len(dir) > sanitize.MaxSegmentBytes {
		t.Errorf("topic dir is %d bytes", len(dir))
	}
}

func TestSave_OverwriteIsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	day := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

	p1, err := s.Save("Alpha", day, "a.txt", []byte("one"))
	testutil.MustNoErr(t, err, "first")
	p2, err := s.Save("Alpha", day, "a.txt", []byte("one"))
	testutil.MustNoErr(t, err, "same content")
	p3, err := s.Save("Alpha", day, "a.txt", []byte("two!"))
	testutil.MustNoErr(t, err, "new content")

	if p1 != p2 || p2 != p3 {
		t.Errorf("paths differ: %q %q %q", p1, p2, p3)
	}
	if got := string(testutil.ReadFile(t, p3)); got != "two!" {
		t.Errorf("content = %q", got)
	}
}

func TestSave_ReplacesSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	outside := testutil.WriteFile(t, t.TempDir(), "secret.txt", []byte("secret"))
	s := New(root)
	day := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

	dir := s.Dir("Alpha", day)
	testutil.MustNoErr(t, os.MkdirAll(dir, 0o755), "mkdir")
	testutil.MustNoErr(t, os.Symlink(outside, filepath.Join(dir, "a.txt")), "symlink")

	_, err := s.Save("Alpha", day, "a.txt", []byte("secret"))
	testutil.MustNoErr(t, err, "Save")

	if got := string(testutil.ReadFile(t, outside)); got != "secret" {
		t.Errorf("symlink target modified: %q", got)
	}
	info, err := os.Lstat(filepath.Join(dir, "a.txt"))
	testutil.MustNoErr(t, err, "Lstat")
	if info.Mode()&os.ModeSymlink != 0 {
		t.Error("symlink should have been replaced by a regular file")
	}
}
