package idp

import (
	"fmt"
	"net/http"

	"github.com/dgellow/auth-relay/internal/config"
)

// NewProvider selects the platform variant once at startup
func NewProvider(cfg *config.Config, httpClient *http.Client, users UserDirectory) (*Provider, error) {
	switch cfg.Platform {
	case config.PlatformGoogle:
		return NewGoogleProvider(
			cfg.ClientID,
			string(cfg.ClientSecret),
			httpClient,
		), nil

	case config.PlatformLocal:
		if users == nil {
			return nil, fmt.Errorf("local platform requires a user directory")
		}
		return NewLocalProvider(
			cfg.ClientID,
			string(cfg.ClientSecret),
			cfg.AuthorizationServerURL,
			httpClient,
			DirectoryUserCheck{Directory: users},
		), nil

	default:
		return nil, fmt.Errorf("unknown platform: %s", cfg.Platform)
	}
}
