package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/sudo-init-do/agenthub/internal/middleware"
)

type RouterOptions struct {
	JWTSecret string
	RateLimit float64 // requests per second per client; 0 disables
	// AccessLog enables echo's request logger
	AccessLog bool
}

// NewRouter builds the echo instance with every marketplace route.
func NewRouter(h *Handler, opts RouterOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = ErrorHandler(h.log)

	e.Use(echomw.Recover())
	if opts.AccessLog {
		e.Use(echomw.Logger())
	}
	if opts.RateLimit > 0 {
		e.Use(echomw.RateLimiter(echomw.NewRateLimiterMemoryStore(rate.Limit(opts.RateLimit))))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", h.Ready)

	// Public routes
	e.GET("/services", h.ListServices)
	e.GET("/services/match", h.MatchServices)
	e.GET("/services/:id", h.GetService)
	e.GET("/services/:id/ratings", h.ServiceRatings)

	// Buyer routes
	jwt := middleware.JWT(opts.JWTSecret)
	e.POST("/purchases/prepare", h.Prepare, jwt)
	e.POST("/purchases/:session/complete", h.Complete, jwt)
	e.POST("/transactions/:id/rating", h.Rate, jwt)
	e.GET("/me/transactions", h.MyTransactions, jwt)

	// Admin routes
	admin := e.Group("/admin")
	admin.Use(jwt)
	admin.Use(middleware.AdminGuard)
	admin.POST("/services", h.RegisterService)
	admin.PATCH("/services/:id", h.UpdateService)
	admin.DELETE("/services/:id", h.DelistService)
	admin.GET("/stats", h.Stats)
	admin.GET("/payments/:signature", h.AuditPayment)
	admin.GET("/disputes", h.ListDisputes)
	admin.POST("/disputes/:id/resolve", h.ResolveDispute)

	return e
}

// GET /ready
func (h *Handler) Ready(c echo.Context) error {
	if err := h.history.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "store unreachable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
}
