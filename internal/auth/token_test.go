package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/agenthub/internal/apperr"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("s3cret", "Wallet111", RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := Parse("s3cret", tok)
	require.NoError(t, err)
	assert.Equal(t, "Wallet111", claims.Wallet)
	assert.Equal(t, RoleAdmin, claims.Role)

	_, err = Parse("other", tok)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestParse_Defaults(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "Wallet222"}).SignedString([]byte("k"))
	require.NoError(t, err)

	claims, err := Parse("k", tok)
	require.NoError(t, err)
	assert.Equal(t, "Wallet222", claims.Wallet)
	assert.Equal(t, RoleBuyer, claims.Role)
}

func TestParse_Rejects(t *testing.T) {
	forever, err := Issue("k", "w", RoleBuyer, -time.Hour)
	require.NoError(t, err)
	// negative ttl means no expiry
	_, err = Parse("k", forever)
	assert.NoError(t, err)

	old := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Wallet:           "w",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})
	s, err := old.SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = Parse("k", s)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))

	noWallet, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = Parse("k", noWallet)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))

	_, err = Issue("", "w", RoleBuyer, 0)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	for _, h := range []string{"", "Bearer ", "Basic abc"} {
		_, err := BearerToken(h)
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized), h)
	}
}
