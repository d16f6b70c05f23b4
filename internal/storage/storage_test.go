package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStorageContract runs the behaviour every backend has to share against a
// fresh store returned by newStore.
func testStorageContract(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("create then get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uuid.NewString()

		created, err := s.Create(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, created.State)
		assert.False(t, created.HasTokens())

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.State)
	})

	t.Run("get unknown state", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("update unknown state", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(context.Background(), &AuthenticationState{
			State:        uuid.NewString(),
			RefreshToken: "rt",
		})
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("pop is single use", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uuid.NewString()

		_, err := s.Create(ctx, id)
		require.NoError(t, err)
		require.NoError(t, s.Update(ctx, &AuthenticationState{
			State:        id,
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			IDToken:      "idt-1",
		}))

		_, err = s.Pop(ctx, id, "not-the-token")
		assert.ErrorIs(t, err, ErrPopConditionFailed)

		popped, err := s.Pop(ctx, id, "rt-1")
		require.NoError(t, err)
		assert.Equal(t, &AuthenticationState{
			State:        id,
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			IDToken:      "idt-1",
		}, popped)

		_, err = s.Pop(ctx, id, "rt-1")
		assert.ErrorIs(t, err, ErrPopConditionFailed)

		_, err = s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("pop with empty refresh token", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uuid.NewString()

		_, err := s.Create(ctx, id)
		require.NoError(t, err)

		_, err = s.Pop(ctx, id, "")
		assert.ErrorIs(t, err, ErrPopConditionFailed)

		_, err = s.Get(ctx, id)
		assert.NoError(t, err, "a failed pop must leave the record in place")
	})

	t.Run("update rotates the pop condition", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uuid.NewString()

		_, err := s.Create(ctx, id)
		require.NoError(t, err)
		require.NoError(t, s.Update(ctx, &AuthenticationState{State: id, AccessToken: "at-1", RefreshToken: "rt-1"}))
		require.NoError(t, s.Update(ctx, &AuthenticationState{State: id, AccessToken: "at-2", RefreshToken: "rt-2"}))

		_, err = s.Pop(ctx, id, "rt-1")
		assert.ErrorIs(t, err, ErrPopConditionFailed)

		popped, err := s.Pop(ctx, id, "rt-2")
		require.NoError(t, err)
		assert.Equal(t, "at-2", popped.AccessToken)
	})

	t.Run("concurrent pops have one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uuid.NewString()

		_, err := s.Create(ctx, id)
		require.NoError(t, err)
		require.NoError(t, s.Update(ctx, &AuthenticationState{State: id, AccessToken: "at", RefreshToken: "rt"}))

		const callers = 16
		var wins, losses atomic.Int32
		var wg sync.WaitGroup
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Pop(ctx, id, "rt")
				switch {
				case err == nil:
					wins.Add(1)
				case assert.ErrorIs(t, err, ErrPopConditionFailed):
					losses.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(callers-1), losses.Load())
	})
}
