package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStateNotFound is returned when no handshake record exists for a state
var ErrStateNotFound = errors.New("authentication state not found")

// ErrPopConditionFailed is returned by Pop when the record is missing or its
// refresh token differs from the one presented
var ErrPopConditionFailed = errors.New("authentication state refresh token mismatch")

// ErrBackend wraps every failure of the underlying database
var ErrBackend = errors.New("state store backend failure")

// AuthenticationState is one handshake record. It is created with only State
// set and gains tokens after the authorization code has been exchanged.
type AuthenticationState struct {
	State        string `json:"state"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// HasTokens reports whether the record has been through a code exchange
func (s *AuthenticationState) HasTokens() bool {
	return s.AccessToken != "" || s.RefreshToken != "" || s.IDToken != ""
}

// Storage persists handshake records. Pop must be a single atomic
// conditional delete: for a given state and refresh token at most one
// concurrent caller succeeds.
type Storage interface {
	Create(ctx context.Context, stateID string) (*AuthenticationState, error)
	Get(ctx context.Context, stateID string) (*AuthenticationState, error)
	Update(ctx context.Context, state *AuthenticationState) error
	Pop(ctx context.Context, stateID, refreshToken string) (*AuthenticationState, error)
	Close() error
}

// Sweeper is implemented by stores that cannot expire records on their own
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int, error)
}

func backendError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackend, err)
}

// expiry returns the absolute expiry for a record created at now, or the
// zero time when ttl disables expiry
func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
