package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRelayEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PLATFORM", "local")
	t.Setenv("STAGE", "dev")
	t.Setenv("AUTH_TABLE", "authentication")
	t.Setenv("BACKEND_URL", "https://frontend.local/dev")
	t.Setenv("PRIVATE_KEY", "IJif5Gaizeech7ahree5geoL")
	t.Setenv("AUTHENTICATION_ROUTE_PREFIX", "auth")
	t.Setenv("AUTHORIZATION_ROUTE_PREFIX", "authorization")
	t.Setenv("CLIENT_ID", "relay-client")
	t.Setenv("CLIENT_SECRET", "relay-secret")
	t.Setenv("IDENTITY_PROVIDER_URL", "https://identity.local")
	t.Setenv("IDENTITY_PROVIDER_TIMEOUT", "2")
	t.Setenv("DYNAMODB_LOCAL_URL", "http://localhost:8000")
	t.Setenv("STORAGE_KIND", "dynamodb")
	t.Setenv("ALLOWED_ORIGINS", "https://frontend.local,https://admin.local")
}

func TestLoadFromEnv(t *testing.T) {
	setRelayEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, PlatformLocal, cfg.Platform)
	assert.Equal(t, "dev", cfg.Stage)
	assert.Equal(t, "authentication", cfg.Storage.Table)
	assert.Equal(t, StorageDynamoDB, cfg.Storage.Kind)
	assert.Equal(t, "http://localhost:8000", cfg.Storage.DynamoDBLocalURL)
	assert.Equal(t, Secret("relay-secret"), cfg.ClientSecret)
	assert.Equal(t, 2*time.Second, cfg.IdentityProviderTimeout.Std())
	assert.Equal(t, []string{"https://frontend.local", "https://admin.local"}, cfg.AllowedOrigins)
	assert.Equal(t, ":8080", cfg.Addr)
}

func TestLoadFromEnvMissingRequired(t *testing.T) {
	setRelayEnv(t)
	t.Setenv("CLIENT_ID", "")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clientId is required")
}
