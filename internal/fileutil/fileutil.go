// Package fileutil writes the tracker's output files. Every write goes to a
// temporary file in the destination directory and is renamed into place, so
// a crash never leaves a half-written workbook, state file or attachment.
// Owner-only modes additionally get a restrictive DACL on Windows.
package fileutil

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// MkdirAll creates path and any missing parents. For owner-only modes the
// leaf directory is restricted to the current user on Windows.
func MkdirAll(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}
	if err := restrict(path, perm); err != nil {
		slog.Warn("fileutil: restrict directory failed", "path", path, "err", err)
	}
	return nil
}

// WriteFileAtomic replaces the file at path with data.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteAtomic(path, perm, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	})
}

// WriteAtomic streams the output of write into a temporary file next to
// path, flushes it to disk, and renames it over path. On any error the
// temporary file is removed and the existing file is left untouched.
func WriteAtomic(path string, perm os.FileMode, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	if rerr := restrict(path, perm); rerr != nil {
		slog.Warn("fileutil: restrict file failed", "path", path, "err", rerr)
	}
	return nil
}
