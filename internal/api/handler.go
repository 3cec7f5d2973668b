// Package api exposes the marketplace over HTTP.
package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sudo-init-do/agenthub/internal/alerts"
	"github.com/sudo-init-do/agenthub/internal/ledger"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
	"github.com/sudo-init-do/agenthub/internal/purchase"
)

// Catalog is the registry surface the admin routes edit.
type Catalog interface {
	Register(ctx context.Context, d marketplace.ServiceDraft) (marketplace.Service, error)
	Update(ctx context.Context, id string, p marketplace.ServicePatch) (marketplace.Service, error)
	Delist(ctx context.Context, id string) error
}

// History is the store surface behind readiness and buyer history.
type History interface {
	Ping(ctx context.Context) error
	ListTransactionsByBuyer(ctx context.Context, buyer string, limit int) ([]marketplace.Transaction, error)
	Stats(ctx context.Context) (marketplace.Stats, error)
}

// Invalidator drops cached listings after a catalog edit.
type Invalidator interface {
	Invalidate()
}

type Handler struct {
	purchases *purchase.Orchestrator
	catalog   Catalog
	history   History
	disputes  *ledger.Disputes
	matcher   Invalidator
	alerts    alerts.Notifier
	log       *zap.Logger
	now       func() time.Time
}

type Deps struct {
	Purchases *purchase.Orchestrator
	Catalog   Catalog
	History   History
	Disputes  *ledger.Disputes
	Matcher   Invalidator
	Alerts    alerts.Notifier
	Logger    *zap.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.L()
	}
	return &Handler{
		purchases: d.Purchases,
		catalog:   d.Catalog,
		history:   d.History,
		disputes:  d.Disputes,
		matcher:   d.Matcher,
		alerts:    d.Alerts,
		log:       logger.Named("api"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) invalidate() {
	if h.matcher != nil {
		h.matcher.Invalidate()
	}
}
