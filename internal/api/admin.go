package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sudo-init-do/agenthub/internal/alerts"
	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
	"github.com/sudo-init-do/agenthub/internal/middleware"
)

// POST /admin/services
func (h *Handler) RegisterService(c echo.Context) error {
	var draft marketplace.ServiceDraft
	if err := c.Bind(&draft); err != nil {
		return apperr.Validation("invalid request")
	}
	svc, err := h.catalog.Register(c.Request().Context(), draft)
	if err != nil {
		return err
	}
	h.invalidate()
	return c.JSON(http.StatusCreated, svc)
}

// PATCH /admin/services/:id
func (h *Handler) UpdateService(c echo.Context) error {
	var patch marketplace.ServicePatch
	if err := c.Bind(&patch); err != nil {
		return apperr.Validation("invalid request")
	}
	svc, err := h.catalog.Update(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return err
	}
	h.invalidate()
	return c.JSON(http.StatusOK, svc)
}

// DELETE /admin/services/:id
func (h *Handler) DelistService(c echo.Context) error {
	id := c.Param("id")
	if err := h.catalog.Delist(c.Request().Context(), id); err != nil {
		return err
	}
	h.invalidate()
	h.log.Info("service delisted by admin", zap.String("service_id", id), zap.String("admin", middleware.Wallet(c)))
	return c.JSON(http.StatusOK, echo.Map{"message": "service delisted", "id": id})
}

// GET /admin/stats
func (h *Handler) Stats(c echo.Context) error {
	st, err := h.history.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

// GET /admin/payments/:signature
func (h *Handler) AuditPayment(c echo.Context) error {
	report, err := h.purchases.Audit(c.Request().Context(), c.Param("signature"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// GET /admin/disputes
func (h *Handler) ListDisputes(c echo.Context) error {
	items, err := h.disputes.List(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return err
	}
	if items == nil {
		items = []marketplace.Dispute{}
	}
	return c.JSON(http.StatusOK, echo.Map{"disputes": items})
}

// POST /admin/disputes/:id/resolve
func (h *Handler) ResolveDispute(c echo.Context) error {
	var req struct {
		Resolution string `json:"resolution"`
		Notes      string `json:"notes"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request")
	}

	d, err := h.disputes.Resolve(c.Request().Context(), c.Param("id"), req.Resolution, req.Notes)
	if err != nil {
		return err
	}

	alerts.Send(c.Request().Context(), h.alerts, alerts.Alert{
		Kind:     alerts.KindDisputeResolved,
		Severity: alerts.SeverityInfo,
		Subject:  "Dispute resolved",
		Message:  fmt.Sprintf("Dispute %s for payment %s resolved: %s", d.ID, d.PaymentHash, d.Resolution),
		Fields: map[string]string{
			"dispute_id": d.ID,
			"resolution": d.Resolution,
			"admin":      middleware.Wallet(c),
		},
		CreatedAt: h.now(),
	})
	return c.JSON(http.StatusOK, echo.Map{"message": "dispute resolved", "dispute": d})
}
