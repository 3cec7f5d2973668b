package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/auth"
)

// Context keys set by JWT
const (
	WalletKey = "wallet"
	RoleKey   = "role"
)

// JWT authenticates the bearer token and stores the caller's wallet and role on the context.
func JWT(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return deny(c, http.StatusUnauthorized, err)
			}
			claims, err := auth.Parse(secret, tokenStr)
			if err != nil {
				return deny(c, http.StatusUnauthorized, err)
			}
			c.Set(WalletKey, claims.Wallet)
			c.Set(RoleKey, claims.Role)
			return next(c)
		}
	}
}

// Wallet returns the authenticated wallet, or "" outside JWT-protected routes.
func Wallet(c echo.Context) string {
	w, _ := c.Get(WalletKey).(string)
	return w
}

// AdminGuard ensures only admin callers can access admin routes
func AdminGuard(next echo.HandlerFunc) echo.HandlerFunc {
	return RequireRoles(auth.RoleAdmin)(next)
}

// RequireRoles ensures the requester's role is one of the allowed roles.
// Usage: route(..., RequireRoles("admin"))
func RequireRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get(RoleKey).(string)
			if role == "" {
				return deny(c, http.StatusForbidden, apperr.Unauthorized("role missing"))
			}
			for _, r := range roles {
				if role == r {
					return next(c)
				}
			}
			return deny(c, http.StatusForbidden, apperr.Unauthorized("access denied"))
		}
	}
}

func deny(c echo.Context, status int, err error) error {
	msg := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	return c.JSON(status, echo.Map{"error": msg, "kind": string(apperr.KindUnauthorized)})
}
