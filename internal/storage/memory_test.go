package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	testStorageContract(t, func(t *testing.T) Storage {
		return NewMemoryStorage(0)
	})
}

func TestMemoryStorage_Expiry(t *testing.T) {
	s := NewMemoryStorage(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := s.Create(ctx, "abandoned")
	require.NoError(t, err)
	_, err = s.Create(ctx, "fresh")
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, &AuthenticationState{State: "fresh", RefreshToken: "rt"}))

	now = now.Add(30 * time.Second)
	_, err = s.Get(ctx, "abandoned")
	assert.NoError(t, err)

	now = now.Add(31 * time.Second)
	_, err = s.Get(ctx, "abandoned")
	assert.ErrorIs(t, err, ErrStateNotFound)

	_, err = s.Pop(ctx, "fresh", "rt")
	assert.ErrorIs(t, err, ErrPopConditionFailed, "expired records cannot be popped")
}

func TestMemoryStorage_DeleteExpired(t *testing.T) {
	s := NewMemoryStorage(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := s.Create(ctx, "old")
	require.NoError(t, err)
	now = now.Add(45 * time.Second)
	_, err = s.Create(ctx, "new")
	require.NoError(t, err)

	now = now.Add(20 * time.Second)
	removed, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())

	_, err = s.Get(ctx, "new")
	assert.NoError(t, err)
}

func TestMemoryStorage_NoTTLKeepsRecords(t *testing.T) {
	s := NewMemoryStorage(0)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := s.Create(ctx, "kept")
	require.NoError(t, err)

	now = now.Add(24 * 365 * time.Hour)
	removed, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = s.Get(ctx, "kept")
	assert.NoError(t, err)
}
