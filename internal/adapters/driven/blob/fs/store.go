// Package fs provides filesystem-backed object storage for filing artifacts.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.ObjectStore = (*Store)(nil)

// Store writes blobs under a root directory. Locations returned by Put are
// paths relative to the root, so the store can be relocated wholesale.
type Store struct {
	root string
}

// NewStore creates a filesystem object store rooted at dir. If dir is empty
// it defaults to ~/.secintel/blobs.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, ".secintel", "blobs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &Store{root: dir}, nil
}

// Put stores bytes under the key and returns the storage location. Writing
// the same key again replaces the content atomically, so redelivered
// download tasks are harmless.
func (s *Store) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	rel, err := s.relPath(key)
	if err != nil {
		return "", err
	}

	full := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating blob subdirectory: %w", err)
	}

	// Write-then-rename so readers never observe a partial blob.
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("placing blob: %w", err)
	}
	return rel, nil
}

// Get retrieves bytes from a location returned by Put.
func (s *Store) Get(_ context.Context, location string) ([]byte, error) {
	rel, err := s.relPath(location)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	return data, nil
}

// relPath validates a key and normalises it to a path under the root.
func (s *Store) relPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob key is empty: %w", domain.ErrInvalidInput)
	}
	rel := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("blob key %q escapes the store root: %w", key, domain.ErrInvalidInput)
	}
	return rel, nil
}
