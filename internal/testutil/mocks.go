package testutil

import (
	"context"

	"github.com/dgellow/auth-relay/internal/directory"
	"github.com/dgellow/auth-relay/internal/idp"
	"github.com/dgellow/auth-relay/internal/idtoken"
	"github.com/stretchr/testify/mock"
)

// MockGateway stands in for an authorization server's token and revocation endpoints
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) ExchangeCode(ctx context.Context, code, redirectURI string) (*idp.Tokens, error) {
	args := m.Called(ctx, code, redirectURI)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.Tokens), args.Error(1)
}

func (m *MockGateway) Refresh(ctx context.Context, refreshToken string) (*idp.Tokens, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.Tokens), args.Error(1)
}

func (m *MockGateway) Revoke(ctx context.Context, refreshToken string) error {
	args := m.Called(ctx, refreshToken)
	return args.Error(0)
}

type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) Validate(ctx context.Context, rawIDToken, audience string) (*idtoken.UserInfo, error) {
	args := m.Called(ctx, rawIDToken, audience)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idtoken.UserInfo), args.Error(1)
}

type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) CreateUser(ctx context.Context, info *idtoken.UserInfo) (*directory.User, error) {
	args := m.Called(ctx, info)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*directory.User), args.Error(1)
}

func (m *MockUserDirectory) UserExists(ctx context.Context, externalID string) (bool, error) {
	args := m.Called(ctx, externalID)
	return args.Bool(0), args.Error(1)
}

// NewMockProvider wires one MockGateway into every token capability of a
// provider and checks users with checker
func NewMockProvider(gateway *MockGateway, checker idp.UserChecker) *idp.Provider {
	return &idp.Provider{
		Name:           "mock",
		CodeExchanger:  gateway,
		TokenRefresher: gateway,
		TokenRevoker:   gateway,
		UserChecker:    checker,
	}
}
