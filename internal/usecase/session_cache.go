package usecase

import (
	"context"
	"log/slog"

	"villa-auth/internal/domain"
	"villa-auth/internal/infrastructure/metrics"
)

// SessionCache binds a SessionStore to one origin.
// Read failures degrade to an empty entry so that a broken store can only ever
// make a visitor look logged out.
type SessionCache struct {
	store  domain.SessionStore
	origin string
	logger *slog.Logger
}

// NewSessionCache creates a SessionCache for origin.
func NewSessionCache(store domain.SessionStore, origin string, logger *slog.Logger) *SessionCache {
	return &SessionCache{store: store, origin: origin, logger: logger}
}

// Read returns the cached entry, or an empty one when the store fails.
func (c *SessionCache) Read(ctx context.Context) domain.SessionCacheEntry {
	entry, err := c.store.Read(ctx, c.origin)
	if err != nil {
		metrics.RecordStoreError("read")
		c.logger.WarnContext(ctx, "session cache read failed, treating as empty", "error", err)
		return domain.SessionCacheEntry{}
	}
	return entry
}

// Write replaces the cached entry.
func (c *SessionCache) Write(ctx context.Context, entry domain.SessionCacheEntry) error {
	if err := c.store.Write(ctx, c.origin, entry); err != nil {
		metrics.RecordStoreError("write")
		c.logger.WarnContext(ctx, "session cache write failed", "error", err)
		return err
	}
	return nil
}

// Clear removes the cached entry.
func (c *SessionCache) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx, c.origin); err != nil {
		metrics.RecordStoreError("clear")
		c.logger.ErrorContext(ctx, "session cache clear failed", "error", err)
		return err
	}
	return nil
}
