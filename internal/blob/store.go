// Package blob stores evidence documents.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is the evidence blob storage contract
type Store interface {
	Put(path string, data []byte) (url string, err error)
	Get(path string) ([]byte, error)
}

// FilesystemStore keeps blobs under a local root directory
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates a store rooted at dir
func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FilesystemStore{root: dir}, nil
}

// Put writes the blob and returns a file URL
func (s *FilesystemStore) Put(path string, data []byte) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", err
	}
	return "file://" + full, nil
}

// Get reads a blob back
func (s *FilesystemStore) Get(path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// resolve keeps paths inside the root
func (s *FilesystemStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid blob path: %s", path)
	}
	return filepath.Join(s.root, clean), nil
}
