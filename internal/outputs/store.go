package outputs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName rejects filenames that could escape the output directory.
var ErrInvalidName = errors.New("invalid artifact filename")

// ErrNotFound reports a filename with no artifact behind it.
var ErrNotFound = errors.New("artifact not found")

// Store keeps generated audio artifacts in a flat directory, each
// independently readable and deletable by filename.
type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path validates filename and returns its absolute location. Names
// containing a path separator or a parent reference are rejected outright.
func (s *Store) Path(filename string) (string, error) {
	if filename == "" ||
		strings.Contains(filename, "..") ||
		strings.ContainsRune(filename, '/') ||
		strings.ContainsRune(filename, '\\') {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}
	return filepath.Join(s.dir, filename), nil
}

// Create opens a new artifact file for writing.
func (s *Store) Create(filename string) (*os.File, error) {
	path, err := s.Path(filename)
	if err != nil {
		return nil, err
	}
	return os.Create(path)
}

// Read returns the artifact bytes for filename.
func (s *Store) Read(filename string) ([]byte, error) {
	path, err := s.Path(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	return data, err
}

// Exists reports whether an artifact named filename is present.
func (s *Store) Exists(filename string) bool {
	path, err := s.Path(filename)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Remove deletes the artifact for filename.
func (s *Store) Remove(filename string) error {
	path, err := s.Path(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, filename)
	} else if err != nil {
		return err
	}
	return nil
}
