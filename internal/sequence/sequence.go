// Package sequence persists the number of the next refresh stream to load.
package sequence

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Store reads and writes the refresh sequence counter.
type Store interface {
	Read() (int, error)
	Write(n int) error
}

// FileStore keeps the counter as plain integer text in one file. It assumes a
// single writer: concurrent benchmark runs must not share a file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the counter file path.
func (s *FileStore) Path() string {
	return s.path
}

// Read returns the stored counter. A missing file is created holding 1.
func (s *FileStore) Read() (int, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		if err := s.Write(1); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sequence: read %s: %w", s.path, err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("sequence: parse %s: %w", s.path, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("sequence: %s holds %d, want a positive integer", s.path, n)
	}
	return n, nil
}

// Write replaces the stored counter. The value is synced to disk and renamed
// into place before Write returns.
func (s *FileStore) Write(n int) error {
	if n < 1 {
		return fmt.Errorf("sequence: refusing to write non-positive value %d", n)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sequence: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("sequence: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(strconv.Itoa(n)); err != nil {
		tmp.Close()
		return fmt.Errorf("sequence: write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sequence: sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sequence: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("sequence: rename to %s: %w", s.path, err)
	}
	return nil
}
