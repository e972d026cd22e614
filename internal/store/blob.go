package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSBlobStore stores product images under a base directory on local disk.
// It implements the importer.BlobStore boundary.
type FSBlobStore struct {
	baseDir string
}

// NewFSBlobStore creates a filesystem blob store rooted at baseDir.
func NewFSBlobStore(baseDir string) *FSBlobStore {
	return &FSBlobStore{baseDir: baseDir}
}

// Upload writes the blob at storagePath relative to the base directory and
// returns the stored path. Paths escaping the base directory are rejected.
func (s *FSBlobStore) Upload(_ context.Context, storagePath string, data []byte) (string, error) {
	cleaned := filepath.Clean(storagePath)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid storage path: %s", storagePath)
	}

	full := filepath.Join(s.baseDir, cleaned)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return cleaned, nil
}
