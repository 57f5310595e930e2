// Package blobfs is the directory-based byte store for raw, encrypted and
// decrypted file contents, addressed by sanitized filename.
package blobfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Category names one of the three blob directories.
type Category string

const (
	CategoryUploads   Category = "uploads"
	CategoryEncrypted Category = "encrypted"
	CategoryDecrypted Category = "decrypted"
)

// Categories lists every valid category.
var Categories = []Category{CategoryUploads, CategoryEncrypted, CategoryDecrypted}

// Valid reports whether c names a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryUploads, CategoryEncrypted, CategoryDecrypted:
		return true
	}
	return false
}

// Store holds blobs under baseDir/<category>/<name>.
type Store struct {
	baseDir string
}

// New creates the category directories and returns the store.
func New(baseDir string) (*Store, error) {
	for _, c := range Categories {
		if err := os.MkdirAll(filepath.Join(baseDir, string(c)), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", c, err)
		}
	}
	return &Store{baseDir: baseDir}, nil
}

// Path returns the on-disk path for a blob. name must already be sanitized.
func (s *Store) Path(c Category, name string) string {
	return filepath.Join(s.baseDir, string(c), name)
}

// Exists reports whether a blob is present.
func (s *Store) Exists(c Category, name string) bool {
	_, err := os.Stat(s.Path(c, name))
	return err == nil
}

// Read returns the full contents of a blob.
func (s *Store) Read(c Category, name string) ([]byte, error) {
	return os.ReadFile(s.Path(c, name))
}

// Write stores a fully materialized blob, replacing any existing one.
func (s *Store) Write(c Category, name string, data []byte) error {
	return os.WriteFile(s.Path(c, name), data, 0o644)
}

// Create streams r into a new blob with fail-if-exists semantics, so two
// concurrent writers of the same name cannot clobber each other. It returns
// os.ErrExist (wrapped) when the name is taken, and the byte count otherwise.
func (s *Store) Create(c Category, name string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(s.Path(c, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return 0, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return 0, fmt.Errorf("failed to write blob: %w", err)
	}
	return n, nil
}

// Size returns the byte size of a blob.
func (s *Store) Size(c Category, name string) (int64, error) {
	info, err := os.Stat(s.Path(c, name))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// IsExist reports whether err came from a Create collision.
func IsExist(err error) bool {
	return errors.Is(err, os.ErrExist)
}
