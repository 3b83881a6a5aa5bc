// Package history provides device-local key-value persistence for the
// message log. The store is synchronous and size-bounded by the host
// filesystem; callers treat every failure as non-fatal.
package history

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrNotFound reports an absent key.
var ErrNotFound = errors.New("history: key not found")

// Store is the minimal persistence contract the message log depends on.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// FileStore keeps one file per key under a base directory.
type FileStore struct {
	baseDir string
}

// NewFileStore creates the base directory if needed and returns the store.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{baseDir: baseDir}, nil
}

// DefaultDir returns the per-user history directory (~/.lumina).
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".lumina"), nil
}

// Get reads the value stored under key.
func (s *FileStore) Get(key string) (string, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Set overwrites the value under key. The write goes through a temp file
// and rename so a quota or crash mid-write cannot corrupt the previous
// snapshot.
func (s *FileStore) Set(key, value string) error {
	target := s.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}

// Remove deletes the value under key. Removing an absent key is not an
// error.
func (s *FileStore) Remove(key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.baseDir, key+".json")
}
