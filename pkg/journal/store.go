package journal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is an append-only line store
type Store interface {
	// Append adds one line to the end of the store
	Append(line []byte) error

	// ReadAll returns every line in append order
	ReadAll() ([][]byte, error)
}

// FileStore keeps one entry per line in a local file
type FileStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileStore opens path, creating it and its parent directories if needed
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	file.Close()
	return &FileStore{path: path}, nil
}

// Append writes line and syncs it to disk
func (s *FileStore) Append(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file for appending: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// ReadAll reads every non-empty line
func (s *FileStore) ReadAll() ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var lines [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// MemoryStore keeps entries in memory. Useful for tests and development.
type MemoryStore struct {
	mu    sync.RWMutex
	lines [][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a copy of line
func (s *MemoryStore) Append(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, bytes.Clone(line))
	return nil
}

// ReadAll returns copies of all lines
func (s *MemoryStore) ReadAll() ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([][]byte, len(s.lines))
	for i, line := range s.lines {
		out[i] = bytes.Clone(line)
	}
	return out, nil
}

// Replace overwrites line i. Only tests use it, to simulate tampering.
func (s *MemoryStore) Replace(i int, line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[i] = bytes.Clone(line)
}
