package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore stores blobs as files under a root directory. Locators are paths
// relative to the root, so they stay valid if the root moves.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed store rooted at dir, creating the
// directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FSStore{root: dir}, nil
}

// Put writes data to <root>/<key>, creating parent directories as needed.
// Writes go through a temp file and rename so readers never observe a
// partially written blob.
func (s *FSStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleaned, err := s.cleanKey(key)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.root, cleaned)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize blob: %w", err)
	}
	return cleaned, nil
}

// Get reads the blob stored under the locator.
func (s *FSStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleaned, err := s.cleanKey(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, cleaned))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Delete removes the blob and, when this empties the containing directory,
// the directory as well. Absent blobs are a no-op.
func (s *FSStore) Delete(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleaned, err := s.cleanKey(locator)
	if err != nil {
		return err
	}
	path := filepath.Join(s.root, cleaned)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	// Best-effort cleanup of the now-possibly-empty parent.
	parent := filepath.Dir(path)
	if parent != s.root {
		_ = os.Remove(parent)
	}
	return nil
}

// cleanKey validates a key or locator and rejects path escapes.
func (s *FSStore) cleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty blob key")
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob key: %q", key)
	}
	return cleaned, nil
}
