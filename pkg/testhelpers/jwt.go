// Package testhelpers provides utilities for testing ekaya-ask components.
package testhelpers

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GenerateTestLicense signs an HS256 license token for the authorization gate.
// A negative ttl yields an already expired token.
func GenerateTestLicense(secret, issuer, subject string, ttl time.Duration) string {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		panic(err) // HMAC signing with a []byte key cannot fail
	}
	return token
}
