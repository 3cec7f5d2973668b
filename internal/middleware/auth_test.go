package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/agenthub/internal/auth"
)

const secret = "test-secret"

func newEcho() *echo.Echo {
	e := echo.New()
	whoami := func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"wallet": Wallet(c), "role": c.Get(RoleKey)})
	}
	e.GET("/me", whoami, JWT(secret))
	e.GET("/admin", whoami, JWT(secret), AdminGuard)
	e.GET("/no-jwt", whoami, RequireRoles(auth.RoleBuyer))
	return e
}

func do(t *testing.T, e *echo.Echo, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWT(t *testing.T) {
	e := newEcho()
	tok, err := auth.Issue(secret, "BuyerWallet", auth.RoleBuyer, time.Hour)
	require.NoError(t, err)

	rec := do(t, e, "/me", tok)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"wallet":"BuyerWallet","role":"buyer"}`, rec.Body.String())

	rec = do(t, e, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing Authorization header")

	rec = do(t, e, "/me", "not.a.token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminGuard(t *testing.T) {
	e := newEcho()
	buyer, _ := auth.Issue(secret, "BuyerWallet", auth.RoleBuyer, time.Hour)
	admin, _ := auth.Issue(secret, "OpsWallet", auth.RoleAdmin, time.Hour)

	assert.Equal(t, http.StatusForbidden, do(t, e, "/admin", buyer).Code)
	assert.Equal(t, http.StatusOK, do(t, e, "/admin", admin).Code)

	// RequireRoles without JWT has no role to check
	rec := do(t, e, "/no-jwt", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "role missing")
}
