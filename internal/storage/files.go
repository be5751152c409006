// Package storage keeps generated report artifacts on local disk, one
// directory per run.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Store{root: root}, nil
}

// RunDir creates and returns the artifact directory for a run code.
func (s *Store) RunDir(runCode string) (string, error) {
	dir := filepath.Join(s.root, runCode)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	return dir, nil
}

// Discard removes a run's directory and everything in it. Used to keep runs
// all-or-nothing: partial files never survive a failed run.
func (s *Store) Discard(runCode string) error {
	return os.RemoveAll(filepath.Join(s.root, runCode))
}

// Size returns the size in bytes of a stored file.
func (s *Store) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
