package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
	"github.com/sudo-init-do/agenthub/internal/store"
)

// Undelivered describes a verified payment that no provider fulfilled
type Undelivered struct {
	PaymentHash string
	SessionID   string
	Buyer       string
	ServiceID   string
	Amount      string
	Currency    string
	Reason      string
}

type Disputes struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewDisputes(st store.Store, logger *zap.Logger) *Disputes {
	if logger == nil {
		logger = zap.L()
	}
	return &Disputes{store: st, log: logger.Named("disputes"), now: func() time.Time { return time.Now().UTC() }}
}

// OpenUndelivered files a dispute for manual refund resolution.
func (d *Disputes) OpenUndelivered(ctx context.Context, u Undelivered) (marketplace.Dispute, error) {
	dispute := marketplace.Dispute{
		ID:          uuid.New().String(),
		PaymentHash: u.PaymentHash,
		SessionID:   u.SessionID,
		Buyer:       u.Buyer,
		ServiceID:   u.ServiceID,
		Amount:      u.Amount,
		Currency:    u.Currency,
		Reason:      u.Reason,
		Status:      marketplace.DisputeOpen,
		CreatedAt:   d.now(),
	}
	if err := d.store.InsertDispute(ctx, dispute); err != nil {
		return marketplace.Dispute{}, eris.Wrap(err, "open dispute")
	}
	d.log.Warn("dispute opened",
		zap.String("dispute_id", dispute.ID),
		zap.String("payment_signature", u.PaymentHash),
		zap.String("buyer", u.Buyer))
	return dispute, nil
}

// List returns disputes, optionally filtered by status (open|resolved).
func (d *Disputes) List(ctx context.Context, status string) ([]marketplace.Dispute, error) {
	switch status {
	case "", marketplace.DisputeOpen, marketplace.DisputeResolved:
	default:
		return nil, apperr.Validation("invalid status %q", status)
	}
	return d.store.ListDisputes(ctx, status)
}

// Resolve closes an open dispute. resolution is refund, release or none.
func (d *Disputes) Resolve(ctx context.Context, id, resolution, notes string) (marketplace.Dispute, error) {
	switch resolution {
	case marketplace.ResolutionRefund, marketplace.ResolutionRelease, marketplace.ResolutionNone:
	default:
		return marketplace.Dispute{}, apperr.Validation("invalid resolution: use refund, release or none")
	}
	dispute, err := d.store.ResolveDispute(ctx, id, resolution, notes, d.now())
	if err != nil {
		return marketplace.Dispute{}, err
	}
	d.log.Info("dispute resolved", zap.String("dispute_id", id), zap.String("resolution", resolution))
	return dispute, nil
}
