package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps one JSON file per id under a base directory.
type FileStore struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*fileLock
}

// NewFileStore creates a FileStore rooted at basePath.
func NewFileStore(basePath string) *FileStore {
	return &FileStore{
		basePath: basePath,
		locks:    make(map[string]*fileLock),
	}
}

func (s *FileStore) pathFor(id string) string {
	return filepath.Join(s.basePath, escapeID(id)+".json")
}

// escapeID keeps ids usable as file names.
func escapeID(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(id)
}

func (s *FileStore) Get(ctx context.Context, id string) (Secrets, error) {
	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}

	var out Secrets
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal secrets: %w", err)
	}
	return out, nil
}

// Set writes the secrets atomically with owner-only permissions.
func (s *FileStore) Set(ctx context.Context, id string, secrets Secrets) error {
	filePath := s.pathFor(id)

	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	filePath := s.pathFor(id)

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete secrets: %w", err)
	}
	return nil
}

// List returns the ids that have stored secrets.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	return ids, nil
}

func (s *FileStore) getLock(path string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[path]; ok {
		return lock
	}
	lock := &fileLock{path: path}
	s.locks[path] = lock
	return lock
}
