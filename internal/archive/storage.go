// Package archive keeps a copy of every uploaded invoice document.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage defines the interface for document file storage
type Storage interface {
	// Save stores data under name and returns the path to retrieve it with
	Save(name string, data []byte) (string, error)

	// Get retrieves a stored document by path
	Get(path string) ([]byte, error)

	// Delete removes a stored document
	Delete(path string) error
}

// LocalStorage implements Storage on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the base directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// resolve keeps every path inside basePath
func (l *LocalStorage) resolve(path string) (string, error) {
	name := filepath.Base(filepath.Clean("/" + path))
	if name == "/" || name == "." {
		return "", fmt.Errorf("invalid document path %q", path)
	}
	return filepath.Join(l.basePath, name), nil
}

// Save writes a document to local storage
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	full, err := l.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filepath.Base(full), nil
}

// Get reads a document from local storage
func (l *LocalStorage) Get(path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a document from local storage
func (l *LocalStorage) Delete(path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Name builds the archive name for a document id, keeping the upload's extension
func Name(id, filename string) string {
	return id + strings.ToLower(filepath.Ext(filename))
}

// ContentType guesses the MIME type of an invoice document from its name
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xml":
		return "application/xml"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
