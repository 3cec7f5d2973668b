package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
	"github.com/sudo-init-do/agenthub/internal/middleware"
	"github.com/sudo-init-do/agenthub/internal/purchase"
)

const historyLimit = 50

// POST /purchases/prepare
func (h *Handler) Prepare(c echo.Context) error {
	var req purchase.PrepareRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request")
	}
	prepared, err := h.purchases.Prepare(c.Request().Context(), middleware.Wallet(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, prepared)
}

// POST /purchases/:session/complete
func (h *Handler) Complete(c echo.Context) error {
	var req purchase.CompleteRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request")
	}
	req.SessionID = c.Param("session")
	req.Buyer = middleware.Wallet(c)

	res, err := h.purchases.Complete(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// POST /transactions/:id/rating
func (h *Handler) Rate(c echo.Context) error {
	var req marketplace.RateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request")
	}
	summary, err := h.purchases.Rate(c.Request().Context(), middleware.Wallet(c), c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, summary)
}

// GET /me/transactions
func (h *Handler) MyTransactions(c echo.Context) error {
	limit, err := intParam(c, "limit")
	if err != nil {
		return err
	}
	if limit == 0 || limit > historyLimit {
		limit = historyLimit
	}
	txs, err := h.history.ListTransactionsByBuyer(c.Request().Context(), middleware.Wallet(c), limit)
	if err != nil {
		return err
	}
	if txs == nil {
		txs = []marketplace.Transaction{}
	}
	return c.JSON(http.StatusOK, echo.Map{"transactions": txs})
}
