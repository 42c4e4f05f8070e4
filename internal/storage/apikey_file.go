package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// APIKeyFile keeps the map service API key in a file only the owner can read.
type APIKeyFile struct {
	path string
}

// NewAPIKeyFile creates an APIKeyFile at path.
func NewAPIKeyFile(path string) (*APIKeyFile, error) {
	if path == "" {
		return nil, errors.New("API key file path is required")
	}
	return &APIKeyFile{path: path}, nil
}

// APIKey returns the stored key, or "" when no key has been saved yet.
func (f *APIKeyFile) APIKey(_ context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", f.path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveAPIKey replaces the stored key. The file is swapped in with a rename so readers
// never see a partial key.
func (f *APIKeyFile) SaveAPIKey(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("API key cannot be empty")
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return errors.New("API key cannot contain whitespace")
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".api-key-*")
	if err != nil {
		return fmt.Errorf("creating temporary key file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("restricting key file: %w", err)
	}
	if _, err := tmp.WriteString(key + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}
	return nil
}
