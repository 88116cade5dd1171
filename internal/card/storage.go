package card

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage defines the interface for image byte storage. Images are
// written once at upload time and removed when the session ends.
type Storage interface {
	// Save stores image bytes and returns the stored name
	Save(name string, data []byte) (string, error)

	// Get retrieves image bytes by stored name
	Get(name string) ([]byte, error)

	// Delete removes a stored image
	Delete(name string) error
}

// LocalStorage implements the Storage interface on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a LocalStorage rooted at basePath, creating
// the directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Save stores image bytes under name
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	if err := os.WriteFile(filepath.Join(l.basePath, name), data, 0644); err != nil {
		return "", fmt.Errorf("writing image file: %w", err)
	}
	return name, nil
}

// Get retrieves image bytes by stored name
func (l *LocalStorage) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, name))
	if err != nil {
		return nil, fmt.Errorf("reading image file: %w", err)
	}
	return data, nil
}

// Delete removes a stored image
func (l *LocalStorage) Delete(name string) error {
	if err := os.Remove(filepath.Join(l.basePath, name)); err != nil {
		return fmt.Errorf("deleting image file: %w", err)
	}
	return nil
}
