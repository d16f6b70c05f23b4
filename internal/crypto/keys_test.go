package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestHashClientSecret(t *testing.T) {
	secret := "test-client-secret-12345"

	hashed, err := HashClientSecret(secret)
	require.NoError(t, err)
	assert.NotEqual(t, []byte(secret), hashed)

	assert.NoError(t, bcrypt.CompareHashAndPassword(hashed, []byte(secret)))
	assert.Error(t, bcrypt.CompareHashAndPassword(hashed, []byte("wrong-password")))

	// salted
	hashed2, err := HashClientSecret(secret)
	require.NoError(t, err)
	assert.NotEqual(t, hashed, hashed2)

	_, err = HashClientSecret("")
	assert.Error(t, err)
}

func TestGenerateSigningKey(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)
	require.NoError(t, key.Validate())
	assert.Equal(t, 2048, key.N.BitLen())
}
