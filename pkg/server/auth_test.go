package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthAcceptsMintedToken(t *testing.T) {
	secret := []byte("test-secret")

	token, err := NewToken(secret, "dr-jones", time.Minute)
	require.NoError(t, err)

	auth := JWTAuth(secret)("Bearer " + token)
	require.NotNil(t, auth)
	assert.Equal(t, "dr-jones", auth.Subject)
}

func TestJWTAuthRejectsBadInput(t *testing.T) {
	secret := []byte("test-secret")
	auth := JWTAuth(secret)

	// Missing header, missing scheme, garbage token.
	assert.Nil(t, auth(""))
	assert.Nil(t, auth("Basic dXNlcjpwYXNz"))
	assert.Nil(t, auth("Bearer not-a-jwt"))

	// Token signed with a different secret.
	token, err := NewToken([]byte("other-secret"), "dr-jones", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, auth("Bearer "+token))
}

func TestJWTAuthRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")

	token, err := NewToken(secret, "dr-jones", -time.Minute)
	require.NoError(t, err)

	assert.Nil(t, JWTAuth(secret)("Bearer "+token))
}
