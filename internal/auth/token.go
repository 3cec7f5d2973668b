// Package auth issues and parses the bearer tokens that carry a caller's wallet and role.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"

	"github.com/sudo-init-do/agenthub/internal/apperr"
)

// Roles
const (
	RoleBuyer = "buyer"
	RoleAdmin = "admin"
)

type Claims struct {
	Wallet string `json:"wallet"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Issue signs an HS256 token for wallet. ttl <= 0 means no expiry.
func Issue(secret, wallet, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", eris.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := Claims{
		Wallet: wallet,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  wallet,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", eris.Wrap(err, "sign token")
	}
	return signed, nil
}

// Parse validates tokenStr and returns its claims.
func Parse(secret, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, apperr.Unauthorized("invalid or expired token")
	}
	if claims.Wallet == "" {
		claims.Wallet = claims.Subject
	}
	if claims.Wallet == "" {
		return nil, apperr.Unauthorized("token carries no wallet")
	}
	if claims.Role == "" {
		claims.Role = RoleBuyer
	}
	return claims, nil
}

// BearerToken pulls the token out of an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if header == "" {
		return "", apperr.Unauthorized("missing Authorization header")
	}
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", apperr.Unauthorized("invalid Authorization format")
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}
