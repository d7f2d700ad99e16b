package dbc

import (
	"fmt"
	"sync"

	"github.com/anodyne74/candaemon/internal/errcode"
)

// Store is the named collection of loaded DBC files, guarded by its own
// mutex; files are refcounted (File.Lock/Unlock) so readers can hold a
// reference across release of the store mutex.
type Store struct {
	mu    sync.Mutex
	files map[string]*File
}

func NewStore() *Store {
	return &Store{files: make(map[string]*File)}
}

// Load parses path and registers the result under name. A parse failure on
// individual lines does not fail Load: the resulting File is marked Partial
// and still stored; only file I/O errors surface as an error here.
func (s *Store) Load(name, path string) (*File, []error, error) {
	f, warnings, err := ParseFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("dbc: load %q: %w", path, err)
	}
	f.Name = name
	f.Path = path

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = f
	return f, warnings, nil
}

// LoadString parses raw DBC text (already read into memory) and registers it
// under name. Accepts any 8-bit-clean byte sequence; a truncated quoted
// string fails that one line (file marked Partial) rather than the whole
// parse.
func (s *Store) LoadString(name string, data []byte) (*File, []error, error) {
	f, warnings := ParseBytes(data)
	f.Name = name

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = f
	return f, warnings, nil
}

// Get returns the named file without affecting its lock count.
func (s *Store) Get(name string) (*File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[name]
	return f, ok
}

// Names lists the currently loaded file names.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.files))
	for n := range s.files {
		names = append(names, n)
	}
	return names
}

// Replace re-parses path and swaps it in under name, refused while the
// existing file is locked (errcode.ErrLockBusy).
func (s *Store) Replace(name, path string) (*File, []error, error) {
	s.mu.Lock()
	existing, ok := s.files[name]
	if ok && existing.LockCount() > 0 {
		s.mu.Unlock()
		return nil, nil, errcode.ErrLockBusy
	}
	s.mu.Unlock()

	f, warnings, err := ParseFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("dbc: replace %q: %w", path, err)
	}
	f.Name = name
	f.Path = path

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under lock: another goroutine may have locked it since.
	if existing, ok := s.files[name]; ok && existing.LockCount() > 0 {
		return nil, nil, errcode.ErrLockBusy
	}
	s.files[name] = f
	return f, warnings, nil
}

// Unload removes name from the store, refused while locked.
func (s *Store) Unload(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[name]
	if !ok {
		return fmt.Errorf("dbc: %q not loaded", name)
	}
	if f.LockCount() > 0 {
		return errcode.ErrLockBusy
	}
	delete(s.files, name)
	return nil
}

// Lock increments name's reference count and returns the file, for a
// consumer (e.g. a Bus Port attaching a DBC) that must keep it alive across
// Replace/Unload attempts.
func (s *Store) Lock(name string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("dbc: %q not loaded", name)
	}
	f.Lock()
	return f, nil
}

// Unlock decrements the named file's reference count.
func (s *Store) Unlock(name string) error {
	s.mu.Lock()
	f, ok := s.files[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("dbc: %q not loaded", name)
	}
	return f.Unlock()
}
