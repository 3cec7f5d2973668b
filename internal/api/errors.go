package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/purchase"
)

// ErrorHandler renders every handler error as {"error","kind","details"}.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg := http.StatusText(he.Code)
			if s, ok := he.Message.(string); ok {
				msg = s
			}
			_ = c.JSON(he.Code, echo.Map{"error": msg, "kind": kindForStatus(he.Code)})
			return
		}

		status := apperr.HTTPStatus(err)
		kind := apperr.KindOf(err)

		var undelivered *purchase.UndeliveredError
		if errors.As(err, &undelivered) {
			_ = c.JSON(status, echo.Map{
				"success": false,
				"error":   undelivered.Error(),
				"kind":    kind,
				"details": undelivered,
			})
			return
		}

		body := echo.Map{"error": err.Error(), "kind": kind}
		var ae *apperr.Error
		if errors.As(err, &ae) {
			body["error"] = ae.Message
			if len(ae.Details) > 0 {
				body["details"] = ae.Details
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err))
			if kind == apperr.KindInternal {
				body["error"] = "internal error"
			}
		}
		_ = c.JSON(status, body)
	}
}

func kindForStatus(code int) apperr.Kind {
	switch code {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		return apperr.KindValidation
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return apperr.KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.KindUnauthorized
	case http.StatusTooManyRequests:
		return apperr.KindConflict
	}
	return apperr.KindInternal
}
