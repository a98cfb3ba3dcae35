package meta

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/caretrust/medlock/pkg/types"
)

var (
	// ErrNotFound indicates no metadata record exists for the object.
	ErrNotFound = errors.New("object not found")
	// ErrExists indicates a record already exists; Put never replaces.
	ErrExists = errors.New("object already exists")
	// ErrInvalidName indicates the object name failed validation.
	ErrInvalidName = errors.New("invalid object name")
)

// namePattern constrains object names to a single safe path element.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store keeps one JSON record per object under a single directory.
// Records double as the operator-facing inspection surface, so the
// layout is one readable file per object rather than a database.
type Store struct {
	dir string

	// Per-object locks make read-modify-write atomic per object
	// without serializing unrelated objects.
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

// Entry pairs an object name with its metadata record.
type Entry struct {
	Name string
	Meta *types.ObjectMeta
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	return &Store{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// ValidName reports whether name is a safe single path element.
func ValidName(name string) bool {
	if !namePattern.MatchString(name) {
		return false
	}
	// Reject pure-dot names; they alias directory entries.
	return strings.Trim(name, ".") != ""
}

func (s *Store) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Get loads the metadata record for an object. A record that exists
// but cannot be parsed is reported as an error, never as absence:
// corrupt metadata must fail closed, not look like a missing object.
func (s *Store) Get(name string) (*types.ObjectMeta, error) {
	if !ValidName(name) {
		return nil, ErrInvalidName
	}
	return s.read(name)
}

func (s *Store) read(name string) (*types.ObjectMeta, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var m types.ObjectMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse metadata for %q: %w", name, err)
	}
	return &m, nil
}

// Put creates the metadata record for a new object. An existing
// record is never replaced; re-registering a name is ErrExists.
func (s *Store) Put(name string, m *types.ObjectMeta) error {
	if !ValidName(name) {
		return ErrInvalidName
	}

	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.path(name)); err == nil {
		return ErrExists
	}
	return s.write(name, m)
}

// Update applies fn to the current record and atomically replaces it.
// The object lock is held across read, mutation and replace, so
// concurrent updates to one object serialize and none is lost.
func (s *Store) Update(name string, fn func(*types.ObjectMeta) error) error {
	if !ValidName(name) {
		return ErrInvalidName
	}

	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	m, err := s.read(name)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return s.write(name, m)
}

// write replaces the record via temp file + rename so readers never
// observe a half-written JSON document.
func (s *Store) write(name string, m *types.ObjectMeta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create metadata temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close metadata temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace metadata: %w", err)
	}
	return nil
}

// List returns every parseable record, sorted by name. Unparseable
// files are skipped here; they surface as errors on direct Get.
func (s *Store) List() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}

	entries := make([]Entry, 0, len(matches))
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		if !ValidName(name) {
			continue
		}
		m, err := s.read(name)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: name, Meta: m})
	}
	return entries, nil
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("failed to count metadata: %w", err)
	}
	return len(matches), nil
}
