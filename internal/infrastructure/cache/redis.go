package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"villa-auth/internal/domain"
)

const (
	fieldLoggedIn    = "logged_in"
	fieldIdentity    = "identity"
	fieldSession     = "session"
	fieldLastChecked = "last_checked_at"

	defaultKeyPrefix = "villa:session:"
)

// RedisStore keeps one hash per origin. Writes replace the whole hash inside MULTI/EXEC.
// Implements domain.SessionStore.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: defaultKeyPrefix, ttl: ttl}
}

// NewRedisStoreWithURL creates a store from a redis:// URL.
func NewRedisStoreWithURL(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), ttl), nil
}

// Client returns the underlying client so the event subscriber can share the connection pool.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(origin string) string {
	return s.prefix + origin
}

// Read returns the entry for origin, or an empty entry when the hash is absent.
func (s *RedisStore) Read(ctx context.Context, origin string) (domain.SessionCacheEntry, error) {
	fields, err := s.client.HGetAll(ctx, s.key(origin)).Result()
	if err != nil {
		return domain.SessionCacheEntry{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return domain.SessionCacheEntry{}, nil
	}

	entry := domain.SessionCacheEntry{LoggedIn: fields[fieldLoggedIn] == "1"}
	if raw := fields[fieldIdentity]; raw != "" {
		var id domain.Identity
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			return domain.SessionCacheEntry{}, fmt.Errorf("%w: decode identity: %w", domain.ErrStoreUnavailable, err)
		}
		entry.CachedIdentity = &id
	}
	if raw := fields[fieldSession]; raw != "" {
		var sess domain.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return domain.SessionCacheEntry{}, fmt.Errorf("%w: decode session: %w", domain.ErrStoreUnavailable, err)
		}
		entry.CachedSession = &sess
	}
	if raw := fields[fieldLastChecked]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.SessionCacheEntry{}, fmt.Errorf("%w: decode last check: %w", domain.ErrStoreUnavailable, err)
		}
		entry.LastCheckedAt = ts
	}
	return entry, nil
}

// Write replaces the hash for origin.
func (s *RedisStore) Write(ctx context.Context, origin string, entry domain.SessionCacheEntry) error {
	values := map[string]any{
		fieldLoggedIn:    "0",
		fieldLastChecked: entry.LastCheckedAt.UTC().Format(time.RFC3339Nano),
	}
	if entry.LoggedIn {
		values[fieldLoggedIn] = "1"
	}
	if entry.CachedIdentity != nil {
		b, err := json.Marshal(entry.CachedIdentity)
		if err != nil {
			return fmt.Errorf("encode identity: %w", err)
		}
		values[fieldIdentity] = string(b)
	}
	if entry.CachedSession != nil {
		b, err := json.Marshal(entry.CachedSession)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		values[fieldSession] = string(b)
	}

	key := s.key(origin)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Clear deletes the hash for origin.
func (s *RedisStore) Clear(ctx context.Context, origin string) error {
	if err := s.client.Del(ctx, s.key(origin)).Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
