package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps each slot in its own file below Root.
type FileStore struct {
	Root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

func (f *FileStore) resolve(path string) string {
	if filepath.IsAbs(path) || f.Root == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(f.Root, path)
}

func (f *FileStore) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(f.resolve(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read slot %s: %w", path, err)
	}
	return data, nil
}

// Write creates parent directories as needed and replaces the file atomically.
func (f *FileStore) Write(path string, data []byte) error {
	target := f.resolve(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create slot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp slot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write slot %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close slot %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename slot %s: %w", path, err)
	}
	return nil
}

func (f *FileStore) Delete(path string) error {
	err := os.Remove(f.resolve(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete slot %s: %w", path, err)
	}
	return nil
}
