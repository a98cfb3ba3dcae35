package blobstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates no blob exists under the given name.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidName indicates the blob name failed validation.
	ErrInvalidName = errors.New("invalid blob name")
	// ErrExists indicates a blob is already stored under the name.
	ErrExists = errors.New("blob already exists")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store holds client-encrypted payloads as opaque files. Bytes in are
// bytes out; this layer never inspects, transforms or attempts to
// decrypt what it holds.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func validName(name string) bool {
	return namePattern.MatchString(name) && strings.Trim(name, ".") != ""
}

// path maps a logical object name to its on-disk blob file. The .enc
// suffix marks the payload as ciphertext for anyone browsing the data
// directory.
func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".enc")
}

// Put stores a new blob, written to a temp file and renamed into
// place so a partial upload is never visible under the final name.
// Returns the byte count written.
func (s *Store) Put(name string, r io.Reader) (int64, error) {
	if !validName(name) {
		return 0, ErrInvalidName
	}
	if _, err := os.Stat(s.path(name)); err == nil {
		return 0, ErrExists
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create blob temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to close blob temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to store blob: %w", err)
	}
	return n, nil
}

// Get opens a blob for reading. The caller closes it.
func (s *Store) Get(name string) (io.ReadCloser, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Open returns the on-disk path of a blob for handlers that stream
// via http.ServeFile.
func (s *Store) Open(name string) (string, error) {
	if !validName(name) {
		return "", ErrInvalidName
	}
	path := s.path(name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to stat blob: %w", err)
	}
	return path, nil
}

// Stat returns the stored size and modification time of a blob.
func (s *Store) Stat(name string) (int64, time.Time, error) {
	if !validName(name) {
		return 0, time.Time{}, ErrInvalidName
	}
	info, err := os.Stat(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, time.Time{}, ErrNotFound
		}
		return 0, time.Time{}, fmt.Errorf("failed to stat blob: %w", err)
	}
	return info.Size(), info.ModTime(), nil
}

// Remove deletes a blob. Used to back out a failed upload; removing
// an absent blob is a no-op.
func (s *Store) Remove(name string) error {
	if !validName(name) {
		return ErrInvalidName
	}
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}
