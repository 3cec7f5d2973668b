package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/purchase"
)

// GET /services
func (h *Handler) ListServices(c echo.Context) error {
	q := purchase.DiscoverQuery{
		Capability: c.QueryParam("capability"),
		MaxPrice:   c.QueryParam("maxPrice"),
		SortBy:     c.QueryParam("sortBy"),
	}
	var err error
	if q.MinRating, err = floatParam(c, "minRating"); err != nil {
		return err
	}
	if q.Limit, err = intParam(c, "limit"); err != nil {
		return err
	}

	services, err := h.purchases.Discover(q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"services": services, "count": len(services)})
}

// GET /services/match?q=
func (h *Handler) MatchServices(c echo.Context) error {
	limit, err := intParam(c, "limit")
	if err != nil {
		return err
	}
	res, err := h.purchases.Match(c.QueryParam("q"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// GET /services/:id
func (h *Handler) GetService(c echo.Context) error {
	svc, err := h.purchases.Details(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, svc)
}

// GET /services/:id/ratings
func (h *Handler) ServiceRatings(c echo.Context) error {
	limit, err := intParam(c, "limit")
	if err != nil {
		return err
	}
	ratings, err := h.purchases.Reviews(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"ratings": ratings, "count": len(ratings)})
}

func floatParam(c echo.Context, name string) (float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperr.Validation("%s must be a number", name)
	}
	return v, nil
}

func intParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.Validation("%s must be a non-negative integer", name)
	}
	return v, nil
}
