// Package auth drives one login attempt through its states:
// created, code exchanged, tokens stored, access issued or refreshed, revoked.
// The Service keeps no state between calls; the State Store is the only
// shared record and its conditional Pop is what makes a refresh token
// single-use per handshake.
package auth

import (
	"context"
	"errors"

	"github.com/dgellow/auth-relay/internal/apperr"
	"github.com/dgellow/auth-relay/internal/directory"
	"github.com/dgellow/auth-relay/internal/idp"
	"github.com/dgellow/auth-relay/internal/idtoken"
	"github.com/dgellow/auth-relay/internal/log"
	"github.com/dgellow/auth-relay/internal/storage"
	"github.com/google/uuid"
)

// UserCreator registers a local account for a validated identity
type UserCreator interface {
	CreateUser(ctx context.Context, info *idtoken.UserInfo) (*directory.User, error)
}

// Service is the authentication orchestrator
type Service struct {
	store             storage.Storage
	provider          *idp.Provider
	validator         idtoken.Validator
	users             UserCreator
	clientID          string
	redirectURIPrefix string
	newStateID        func() string
}

// NewService wires the orchestrator. redirectURIPrefix is prepended to the
// endpoint path on every code exchange and must match what the frontend
// sent to the authorization server.
func NewService(
	store storage.Storage,
	provider *idp.Provider,
	validator idtoken.Validator,
	users UserCreator,
	clientID string,
	redirectURIPrefix string,
) *Service {
	return &Service{
		store:             store,
		provider:          provider,
		validator:         validator,
		users:             users,
		clientID:          clientID,
		redirectURIPrefix: redirectURIPrefix,
		newStateID:        uuid.NewString,
	}
}

// RedirectURI is the exact redirect URI used for endpointURI
func (s *Service) RedirectURI(endpointURI string) string {
	return s.redirectURIPrefix + endpointURI
}

// CreateState mints and persists a fresh handshake state
func (s *Service) CreateState(ctx context.Context) (string, error) {
	created, err := s.store.Create(ctx, s.newStateID())
	if err != nil {
		return "", storeError(err, "cannot create state")
	}
	return created.State, nil
}

// ValidateState confirms a handshake record exists for state
func (s *Service) ValidateState(ctx context.Context, state string) error {
	if _, err := s.store.Get(ctx, state); err != nil {
		if errors.Is(err, storage.ErrStateNotFound) {
			return apperr.New(apperr.KindInvalidState, "invalid state")
		}
		return storeError(err, "cannot fetch state")
	}
	return nil
}

// ExchangeCodeForToken validates state and trades code for tokens using the
// redirect URI built from endpointURI. The tokens are not persisted; see
// TemporarilyStore.
func (s *Service) ExchangeCodeForToken(ctx context.Context, state, code, endpointURI string) (*storage.AuthenticationState, error) {
	if err := s.ValidateState(ctx, state); err != nil {
		return nil, err
	}

	tokens, err := s.provider.ExchangeCode(ctx, code, s.RedirectURI(endpointURI))
	if err != nil {
		return nil, err
	}

	log.LogDebugWithFields("auth", "Authorization code exchanged", map[string]any{
		"provider": s.provider.Name,
		"endpoint": endpointURI,
	})
	return &storage.AuthenticationState{
		State:        state,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
	}, nil
}

// TemporarilyStore attaches exchanged tokens to their handshake record
func (s *Service) TemporarilyStore(ctx context.Context, state *storage.AuthenticationState) error {
	if err := s.store.Update(ctx, state); err != nil {
		if errors.Is(err, storage.ErrStateNotFound) {
			return apperr.New(apperr.KindInvalidState, "invalid state")
		}
		return storeError(err, "could not update authentication data")
	}
	return nil
}

// GetTemporarilyStoredAccessToken consumes the handshake record. It succeeds
// at most once per state and refresh token.
func (s *Service) GetTemporarilyStoredAccessToken(ctx context.Context, state, refreshToken string) (*storage.AuthenticationState, error) {
	popped, err := s.store.Pop(ctx, state, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrPopConditionFailed) {
			return nil, apperr.Wrap(apperr.KindUnauthorized, "unauthorized", err)
		}
		return nil, storeError(err, "cannot consume state")
	}
	return popped, nil
}

// RefreshAccessToken runs a refresh grant. The returned refresh token
// replaces the presented one.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (*storage.AuthenticationState, error) {
	tokens, err := s.provider.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return &storage.AuthenticationState{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
	}, nil
}

// RevokeRefreshToken revokes refreshToken at the authorization server
func (s *Service) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	return s.provider.Revoke(ctx, refreshToken)
}

// CreateUser validates idToken and registers its identity in the directory
func (s *Service) CreateUser(ctx context.Context, idToken string) (*idtoken.UserInfo, error) {
	info, err := s.GetUserInfo(ctx, idToken)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.CreateUser(ctx, info); err != nil {
		return nil, err
	}
	log.LogInfoWithFields("auth", "User signed up", map[string]any{
		"external_identifier": info.ExternalIdentifier,
	})
	return info, nil
}

// GetUserInfo validates idToken against this relay's client id
func (s *Service) GetUserInfo(ctx context.Context, idToken string) (*idtoken.UserInfo, error) {
	return s.validator.Validate(ctx, idToken, s.clientID)
}

// EnsureUserExists fails with ResourceNotFound when the provider variant
// requires a local account and none exists
func (s *Service) EnsureUserExists(ctx context.Context, externalID string) error {
	return s.provider.EnsureUserExists(ctx, externalID)
}

func storeError(err error, message string) error {
	return apperr.Wrap(apperr.KindBackendStore, message, err)
}
