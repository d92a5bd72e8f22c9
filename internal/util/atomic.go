package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileMode is the permission of every file written atomically.
const FileMode os.FileMode = 0o644

// WriteFileAtomic streams write into a temporary file next to path and
// renames it over path once write and close succeed. On failure path is left
// untouched.
func WriteFileAtomic(path string, write func(io.Writer) error) error {
	tmp, err := CreateTemp(path)
	if err != nil {
		return err
	}
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// CreateTemp opens a hidden temporary file in the directory of path, creating
// the directory if needed. The file is made world-readable (0644) so it keeps
// that mode once renamed. The caller renames or removes it.
func CreateTemp(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp for %s: %w", path, err)
	}
	if err := tmp.Chmod(FileMode); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	return tmp, nil
}
