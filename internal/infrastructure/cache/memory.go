package cache

import (
	"context"
	"sync"
	"time"

	"villa-auth/internal/domain"
)

// memoryEntry is a cached origin record with its eviction deadline.
type memoryEntry struct {
	entry     domain.SessionCacheEntry
	expiresAt time.Time
}

// MemoryStore provides thread-safe in-memory session caching with TTL.
// Implements domain.SessionStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a new in-memory store that forgets entries after ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Read returns the entry for origin, or an empty entry.
func (s *MemoryStore) Read(_ context.Context, origin string) (domain.SessionCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, found := s.entries[origin]
	if !found || time.Now().After(e.expiresAt) {
		return domain.SessionCacheEntry{}, nil
	}
	return cloneEntry(e.entry), nil
}

// Write replaces the entry for origin.
func (s *MemoryStore) Write(_ context.Context, origin string, entry domain.SessionCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[origin] = &memoryEntry{
		entry:     cloneEntry(entry),
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

// Clear removes the entry for origin.
func (s *MemoryStore) Clear(_ context.Context, origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, origin)
	return nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the cleanup loop.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// cleanup removes expired entries.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for origin, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, origin)
		}
	}
}

// cleanupLoop runs periodic cleanup of expired entries.
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.done:
			return
		}
	}
}

// cloneEntry copies the pointer fields so callers never share state with the store.
func cloneEntry(e domain.SessionCacheEntry) domain.SessionCacheEntry {
	if e.CachedIdentity != nil {
		id := *e.CachedIdentity
		e.CachedIdentity = &id
	}
	if e.CachedSession != nil {
		sess := *e.CachedSession
		e.CachedSession = &sess
	}
	return e
}
