package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"villa-auth/internal/domain"
)

// FileStore keeps one JSON document per origin under a directory.
// Implements domain.SessionStore.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates the directory if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// path hashes the origin so that it can never escape dir.
func (s *FileStore) path(origin string) string {
	sum := sha256.Sum256([]byte(origin))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}

// Read returns the entry for origin, or an empty entry when no file exists.
func (s *FileStore) Read(_ context.Context, origin string) (domain.SessionCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(origin))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.SessionCacheEntry{}, nil
		}
		return domain.SessionCacheEntry{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	var entry domain.SessionCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.SessionCacheEntry{}, fmt.Errorf("%w: decode %s: %w", domain.ErrStoreUnavailable, origin, err)
	}
	return entry, nil
}

// Write replaces the document for origin. Readers see either the old or the new document.
func (s *FileStore) Write(_ context.Context, origin string, entry domain.SessionCacheEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(s.path(origin), data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Clear deletes the document for origin. Clearing a missing document is not an error.
func (s *FileStore) Clear(_ context.Context, origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(origin)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// writeAtomic writes data to a temp file in the same directory and renames it over path.
func writeAtomic(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
