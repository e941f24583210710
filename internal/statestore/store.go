// Package statestore persists what each filter last ran with, so that a
// later invocation can tell which filters are up to date.
//
// A Store is memory-only when it has no path. With a path it is loaded from
// and saved to a YAML file:
//
//	version: 1
//	filters:
//	  gaussian.blur:
//	    fingerprint: 5d41402abc4b2a76...
//	    updated_at: 2025-01-02T15:04:05Z
//	    duration: 52ms
package statestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const fileVersion = 1

// Record is what is kept about a filter's last successful run.
type Record struct {
	Fingerprint string        `yaml:"fingerprint"`
	UpdatedAt   time.Time     `yaml:"updated_at"`
	Duration    time.Duration `yaml:"duration,omitempty"`
}

type file struct {
	Version int               `yaml:"version"`
	Filters map[string]Record `yaml:"filters"`
}

// Store is safe for concurrent use.
type Store struct {
	path string

	mu      sync.RWMutex
	records map[string]Record
	dirty   bool
}

// NewMemory returns a store that is never written to disk.
func NewMemory() *Store {
	return &Store{records: make(map[string]Record)}
}

// Open loads the store at path. A missing file yields an empty store. An
// empty path yields a memory-only store.
func Open(path string) (*Store, error) {
	s := NewMemory()
	s.path = path
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("state file %s has unsupported version %d", path, f.Version)
	}
	for id, rec := range f.Filters {
		s.records[id] = rec
	}
	return s, nil
}

// Path returns the backing file, or "" for a memory-only store.
func (s *Store) Path() string { return s.path }

// Get returns the record for a filter.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Put stores the record for a filter.
func (s *Store) Put(id string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = rec
	s.dirty = true
}

// Delete forgets a filter.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; ok {
		delete(s.records, id)
		s.dirty = true
	}
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Save writes the store to its file if anything changed since it was
// opened or last saved. The file is replaced atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" || !s.dirty {
		return nil
	}

	data, err := yaml.Marshal(file{Version: fileVersion, Filters: s.records})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".filtergrid-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	s.dirty = false
	return nil
}
