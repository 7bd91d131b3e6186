package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
)

// FileStore persists keys to a single JSON file. Every write rewrites the
// whole file through a rename so readers never observe a torn write. It
// backs the buffer snapshot for embedded (non-browser) clients and tests.
type FileStore struct {
	path string

	mu     sync.Mutex
	values map[string]string
	closed bool
}

// NewFileStore opens (or creates) the store file at path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	values := make(map[string]string)
	data, err := os.ReadFile(path) //nolint:gosec // Store path is controlled by the embedding application
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parse store file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Fresh store
	default:
		return nil, fmt.Errorf("read store file %s: %w", path, err)
	}

	return &FileStore{path: path, values: values}, nil
}

// Get returns the value for key.
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", false, domain.ErrStoreClosed
	}
	value, ok := s.values[key]
	return value, ok, nil
}

// Set overwrites the value for key and flushes the file.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}
	s.values[key] = value
	return s.persistLocked()
}

// Delete removes key and flushes the file.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrStoreClosed
	}
	delete(s.values, key)
	return s.persistLocked()
}

// Close marks the store closed; subsequent operations fail.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) persistLocked() error {
	data, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("serialize store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
