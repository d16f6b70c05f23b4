package idp

import (
	"context"

	"github.com/dgellow/auth-relay/internal/apperr"
)

// SkipUserCheck accepts every identifier
type SkipUserCheck struct{}

func (SkipUserCheck) EnsureUserExists(context.Context, string) error {
	return nil
}

// UserDirectory reports whether a local account exists
type UserDirectory interface {
	UserExists(ctx context.Context, externalID string) (bool, error)
}

// DirectoryUserCheck requires an account in the identity directory
type DirectoryUserCheck struct {
	Directory UserDirectory
}

func (c DirectoryUserCheck) EnsureUserExists(ctx context.Context, externalID string) error {
	exists, err := c.Directory.UserExists(ctx, externalID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.Newf(apperr.KindResourceNotFound, "User not found: %s", externalID)
	}
	return nil
}
