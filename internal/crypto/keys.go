// Package crypto generates the key material of the local authorization
// server: token HMAC secrets, the ID token signing key and the hashed client
// secret it authenticates the relay with.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	secretSize = 32
	rsaBits    = 2048
)

// GenerateSecret returns 32 random bytes, the minimum HMAC-SHA512/256 key
// length the token strategy accepts
func GenerateSecret() ([]byte, error) {
	b := make([]byte, secretSize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// GenerateSecureToken is GenerateSecret encoded for use in URLs
func GenerateSecureToken() (string, error) {
	b, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashClientSecret hashes a client secret using bcrypt
func HashClientSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("client secret is empty")
	}
	return bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
}

// GenerateSigningKey creates an RSA key for RS256 ID tokens. Keys are not
// persisted; tokens signed before a restart cannot be verified after it.
func GenerateSigningKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return key, nil
}
