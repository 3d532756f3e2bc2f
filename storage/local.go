package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalArchive stores scrape payloads on the local filesystem.
type LocalArchive struct {
	basePath string
}

// NewLocalArchive creates a local archive rooted at basePath
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalArchive{basePath: basePath}, nil
}

// Upload writes a payload under the archive root and returns its key
func (a *LocalArchive) Upload(ctx context.Context, scrapeID uuid.UUID, filename string, data io.Reader) (string, error) {
	key := archiveKey(scrapeID, filename)
	fullPath := filepath.Join(a.basePath, key)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to write archive file: %w", err)
	}

	return key, nil
}

// Download opens an archived payload by key
func (a *LocalArchive) Download(ctx context.Context, storageURI string) (io.ReadCloser, error) {
	fullPath := filepath.Join(a.basePath, storageURI)

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archived payload not found: %s", storageURI)
		}
		return nil, fmt.Errorf("failed to open archived payload: %w", err)
	}

	return file, nil
}

// Delete removes an archived payload. Deleting a missing payload is not an
// error.
func (a *LocalArchive) Delete(ctx context.Context, storageURI string) error {
	fullPath := filepath.Join(a.basePath, storageURI)

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete archived payload: %w", err)
	}

	return nil
}
