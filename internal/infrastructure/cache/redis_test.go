package cache

import (
	"context"
	"testing"
	"time"

	"villa-auth/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, ttl)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_WriteAndRead(t *testing.T) {
	s, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()

	want := sampleEntry()
	require.NoError(t, s.Write(ctx, "https://villa.test", want))

	assert.True(t, mr.Exists("villa:session:https://villa.test"))
	assert.Equal(t, "1", mr.HGet("villa:session:https://villa.test", "logged_in"))

	got, err := s.Read(ctx, "https://villa.test")
	require.NoError(t, err)
	assert.True(t, got.LoggedIn)
	assert.Equal(t, want.CachedIdentity, got.CachedIdentity)
	assert.Equal(t, want.CachedSession.ID, got.CachedSession.ID)
	assert.True(t, want.LastCheckedAt.Equal(got.LastCheckedAt))
}

func TestRedisStore_WriteReplacesFields(t *testing.T) {
	s, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "o", sampleEntry()))
	require.NoError(t, s.Write(ctx, "o", domain.SessionCacheEntry{LastCheckedAt: time.Now()}))

	assert.Equal(t, "", mr.HGet("villa:session:o", "identity"))

	got, err := s.Read(ctx, "o")
	require.NoError(t, err)
	assert.False(t, got.LoggedIn)
	assert.Nil(t, got.CachedIdentity)
}

func TestRedisStore_TTL(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "o", sampleEntry()))
	assert.Equal(t, time.Minute, mr.TTL("villa:session:o"))

	mr.FastForward(2 * time.Minute)

	got, err := s.Read(ctx, "o")
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestRedisStore_Clear(t *testing.T) {
	s, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "o", sampleEntry()))
	require.NoError(t, s.Clear(ctx, "o"))
	assert.False(t, mr.Exists("villa:session:o"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newRedisStore(t, time.Hour)
	mr.Close()

	_, err := s.Read(context.Background(), "o")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestRedisStore_CorruptIdentity(t *testing.T) {
	s, mr := newRedisStore(t, time.Hour)
	mr.HSet("villa:session:o", "logged_in", "1", "identity", "{bad")

	_, err := s.Read(context.Background(), "o")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
