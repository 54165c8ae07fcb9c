package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// stagingDirPrefix prefixes every run's staging directory name.
const stagingDirPrefix = "docker-pbs-backup-"

// StagingArea is the run-scoped local directory that collects database dumps.
// The directory is created on first use and removed by Cleanup.
type StagingArea struct {
	path string

	mu      sync.Mutex
	created bool
}

// NewStagingArea returns a staging area under root named after the run ID.
// Nothing is created on disk until Ensure is called.
func NewStagingArea(root, runID string) *StagingArea {
	if root == "" {
		root = os.TempDir()
	}
	return &StagingArea{
		path: filepath.Join(root, stagingDirPrefix+runID),
	}
}

// Path returns the staging directory path whether or not it exists.
func (s *StagingArea) Path() string {
	return s.path
}

// Ensure creates the staging directory if needed and returns its path.
// It is safe for concurrent use.
func (s *StagingArea) Ensure() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.created {
		return s.path, nil
	}
	if err := os.MkdirAll(s.path, 0o700); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	s.created = true
	return s.path, nil
}

// Created reports whether the directory was created during this run.
func (s *StagingArea) Created() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// HasContent reports whether the staging directory exists and is not empty.
func (s *StagingArea) HasContent() (bool, error) {
	if !s.Created() {
		return false, nil
	}

	dir, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open staging directory: %w", err)
	}
	defer dir.Close()

	_, err = dir.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read staging directory: %w", err)
	}
	return true, nil
}

// Cleanup removes the staging directory recursively if it was created.
func (s *StagingArea) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.created {
		return nil
	}
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	s.created = false
	return nil
}
