// Package license implements the authorization gate consulted before a query
// session generates any SQL. Licenses are HS256-signed JWTs.
package license

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/config"
)

type contextKey string

// TokenKey is the context key for a per-request license token.
const TokenKey contextKey = "license_token"

// WithToken returns a context carrying a per-request license token. It takes
// precedence over the configured token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, TokenKey, token)
}

// GetToken retrieves the per-request license token from the context.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok && token != ""
}

// Claims are the license token claims.
type Claims struct {
	jwt.RegisteredClaims
	Plan string `json:"plan,omitempty"`
}

// Gate validates license tokens. A disabled gate admits every request.
type Gate struct {
	enabled bool
	token   string
	secret  []byte
	issuer  string
	logger  *zap.Logger
}

// NewGate creates a gate from configuration.
func NewGate(cfg config.LicenseConfig, logger *zap.Logger) *Gate {
	return &Gate{
		enabled: cfg.Enabled,
		token:   cfg.Token,
		secret:  []byte(cfg.Secret),
		issuer:  cfg.Issuer,
		logger:  logger.Named("license"),
	}
}

// Enabled reports whether tokens are checked.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// IsValid reports whether the request may proceed. The token is re-validated on
// every call so an expired license takes effect without a restart.
func (g *Gate) IsValid(ctx context.Context) bool {
	if !g.enabled {
		return true
	}
	token := g.token
	if t, ok := GetToken(ctx); ok {
		token = t
	}
	if _, err := g.Validate(token); err != nil {
		g.logger.Warn("License check failed", zap.Error(err))
		return false
	}
	return true
}

// Validate verifies the token signature, expiry and issuer and returns its claims.
func (g *Gate) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("no license token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("license validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}
