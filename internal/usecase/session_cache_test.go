package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"villa-auth/internal/domain"
)

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) Read(context.Context, string) (domain.SessionCacheEntry, error) {
	return domain.SessionCacheEntry{}, domain.ErrStoreUnavailable
}

func (brokenStore) Write(context.Context, string, domain.SessionCacheEntry) error {
	return domain.ErrStoreUnavailable
}

func (brokenStore) Clear(context.Context, string) error {
	return domain.ErrStoreUnavailable
}

func TestSessionCache_RoundTripPerOrigin(t *testing.T) {
	store := newFakeStore()
	a := NewSessionCache(store, "visitor-a", testLogger)
	b := NewSessionCache(store, "visitor-b", testLogger)
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, freshEntry(domain.RoleAdmin)))

	assert.True(t, a.Read(ctx).LoggedIn)
	assert.True(t, b.Read(ctx).Empty(), "origins are isolated")
	assert.Equal(t, "visitor-a", a.origin)

	require.NoError(t, a.Clear(ctx))
	assert.True(t, a.Read(ctx).Empty())
}

func TestSessionCache_ReadFailureIsEmpty(t *testing.T) {
	c := NewSessionCache(brokenStore{}, testOrigin, testLogger)

	entry := c.Read(context.Background())
	assert.True(t, entry.Empty())
	assert.False(t, entry.LoggedIn)
}

func TestSessionCache_WriteAndClearReportFailure(t *testing.T) {
	c := NewSessionCache(brokenStore{}, testOrigin, testLogger)
	ctx := context.Background()

	assert.ErrorIs(t, c.Write(ctx, freshEntry(domain.RoleAdmin)), domain.ErrStoreUnavailable)
	assert.ErrorIs(t, c.Clear(ctx), domain.ErrStoreUnavailable)
}
