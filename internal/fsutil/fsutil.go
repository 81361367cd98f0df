// Package fsutil holds the filesystem probes the pipeline uses as its state.
package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Exists reports whether path exists. Only existence is checked, never
// content: a partially written directory counts as present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Missing reports whether path definitely does not exist. Errors other than
// fs.ErrNotExist are returned so callers do not mistake a permission problem
// for a missing artifact.
func Missing(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	return false, err
}

// EnsureDir creates dir and its parents and returns dir.
func EnsureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// WriteFileAtomic writes data to a temporary file next to name and renames
// it into place, so readers never observe a half-written manifest.
func WriteFileAtomic(name string, data []byte, perm fs.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, name)
}
