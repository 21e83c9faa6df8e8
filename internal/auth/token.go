// ABOUTME: HS256 bearer tokens for the admin surface, minted and verified
// ABOUTME: from one shared key. Only the subject claim is consumed.

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(raw string) (subject string, err error)
}

// HMACKey signs and verifies admin tokens with a shared HS256 secret.
type HMACKey struct {
	key []byte
}

// NewHMACKey wraps a shared secret for minting and verifying tokens.
func NewHMACKey(key []byte) *HMACKey {
	return &HMACKey{key: key}
}

// Verify checks the signature and expiry of a token and returns its
// subject. Tokens signed with any algorithm other than HS256 are
// rejected before the key is consulted.
func (k *HMACKey) Verify(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (interface{}, error) { return k.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpiredToken
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Mint issues a token for the subject, valid for ttl from now.
func (k *HMACKey) Mint(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.key)
}
