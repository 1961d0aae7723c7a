package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/picklr-io/sitepush/internal/fingerprint"
)

// FileStore keeps the record as a JSON file, normally inside the output directory.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the record location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Location() string {
	return s.path
}

// Load reads the record. A missing file means a first run.
func (s *FileStore) Load(_ context.Context) (fingerprint.Map, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return fingerprint.Map{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", s.path, err)
	}
	return m, nil
}

// Save replaces the record atomically: the content is written and synced to a
// sibling temp file which is then renamed over the target.
func (s *FileStore) Save(_ context.Context, m fingerprint.Map) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := Encode(m)
	if err != nil {
		return err
	}

	tmp := s.tempPath()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp state file %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temp state file %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp state file %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write state file %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) tempPath() string {
	return s.path + ".tmp"
}
