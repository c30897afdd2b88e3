// Package storage persists uploaded files in a single local directory.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidFilename is returned when nothing usable is left of a client
// supplied name after stripping directories.
var ErrInvalidFilename = errors.New("invalid filename")

// Store writes uploads under dir. Files are never deleted by the store.
type Store struct {
	dir string
}

// New creates the upload directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string { return s.dir }

// SanitizeFilename reduces a client supplied name to a bare file name. Both
// slash and backslash count as separators.
func SanitizeFilename(name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return base, nil
}

// Save copies r into the upload directory under the sanitized name and returns
// the final path. The data is written to a temp file first and renamed into
// place, so concurrent saves of one name leave a single complete file.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	base, err := SanitizeFilename(name)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.dir, base)

	tmp := filepath.Join(s.dir, "."+base+"."+uuid.NewString()+".part")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create upload: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	return dst, nil
}
