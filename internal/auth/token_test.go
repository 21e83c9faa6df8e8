// ABOUTME: Tests for admin token minting and verification.
// ABOUTME: Covers round-trips, expiry, wrong keys, and claim validation.

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACKey_RoundTrip(t *testing.T) {
	k := NewHMACKey([]byte("test-secret"))

	token, err := k.Mint("admin", time.Hour)
	require.NoError(t, err)

	sub, err := k.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", sub)
}

func TestHMACKey_ExpiredToken(t *testing.T) {
	k := NewHMACKey([]byte("test-secret"))

	token, err := k.Mint("admin", -time.Minute)
	require.NoError(t, err)

	_, err = k.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestHMACKey_WrongKey(t *testing.T) {
	k := NewHMACKey([]byte("test-secret"))
	other := NewHMACKey([]byte("other-secret"))

	token, err := k.Mint("admin", time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHMACKey_MissingSubject(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	k := NewHMACKey(secret)
	_, err = k.Verify(token)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestHMACKey_RejectsUnexpectedSigningMethod(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "admin"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	k := NewHMACKey([]byte("test-secret"))
	_, err = k.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHMACKey_Garbage(t *testing.T) {
	k := NewHMACKey([]byte("test-secret"))
	_, err := k.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
