// Package ledger records provider attempts, ratings and disputes against the store.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sudo-init-do/agenthub/internal/marketplace"
	"github.com/sudo-init-do/agenthub/internal/store"
)

// Attempt describes one provider call paid by a verified payment.
type Attempt struct {
	SessionID string
	Index     int // 0 = primary
	Service   marketplace.Service
	Buyer     string
	Amount    string
	Currency  string
	Request   json.RawMessage
	Signature string
}

// Entry is a begun attempt waiting for its outcome.
type Entry struct {
	Tx        marketplace.Transaction
	persisted bool
}

// Persisted reports whether the pending row reached the store.
func (e *Entry) Persisted() bool { return e.persisted }

type Outcome struct {
	Success  bool
	Response json.RawMessage
	Err      error
}

type Writer struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewWriter(st store.Store, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.L()
	}
	return &Writer{store: st, log: logger.Named("ledger"), now: func() time.Time { return time.Now().UTC() }}
}

// Begin inserts the pending row. A store failure is logged and never returned.
func (w *Writer) Begin(ctx context.Context, a Attempt) *Entry {
	now := w.now()
	e := &Entry{Tx: marketplace.Transaction{
		ID:          uuid.New().String(),
		ServiceID:   a.Service.ID,
		SessionID:   a.SessionID,
		Attempt:     a.Index,
		Buyer:       a.Buyer,
		Seller:      a.Service.Provider,
		Amount:      a.Amount,
		Currency:    a.Currency,
		Status:      marketplace.TxPending,
		Request:     a.Request,
		PaymentHash: a.Signature,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}

	if err := w.store.InsertTransaction(ctx, e.Tx); err != nil {
		w.log.Error("pending transaction not persisted",
			zap.String("transaction_id", e.Tx.ID),
			zap.String("payment_signature", a.Signature),
			zap.Error(err))
		return e
	}
	e.persisted = true
	return e
}

// Record writes the terminal status. Failures are logged and swallowed so the
// provider result always reaches the caller.
func (w *Writer) Record(ctx context.Context, e *Entry, out Outcome) marketplace.Transaction {
	tx := e.Tx
	tx.UpdatedAt = w.now()
	if out.Success {
		tx.Status = marketplace.TxCompleted
		tx.Response = out.Response
	} else {
		tx.Status = marketplace.TxFailed
		if out.Err != nil {
			tx.Error = out.Err.Error()
		} else {
			tx.Error = "unknown provider failure"
		}
	}

	var err error
	if e.persisted {
		err = w.store.FinishTransaction(ctx, tx.ID, store.Outcome{
			Status: tx.Status, Response: tx.Response, Error: tx.Error, At: tx.UpdatedAt,
		})
	} else {
		err = w.store.InsertTerminalTransaction(ctx, tx)
	}

	fields := []zap.Field{
		zap.String("transaction_id", tx.ID),
		zap.String("session_id", tx.SessionID),
		zap.String("service_id", tx.ServiceID),
		zap.Int("attempt", tx.Attempt),
		zap.String("payment_signature", tx.PaymentHash),
		zap.String("status", string(tx.Status)),
	}
	switch {
	case errors.Is(err, store.ErrTerminal):
		w.log.Warn("transaction already terminal, outcome not rewritten", fields...)
	case err != nil:
		w.log.Error("transaction outcome not persisted", append(fields, zap.Error(err))...)
	default:
		w.log.Info("transaction recorded", fields...)
	}

	e.Tx = tx
	return tx
}

// ByPayment lists every attempt made with a payment signature.
func (w *Writer) ByPayment(ctx context.Context, signature string) ([]marketplace.Transaction, error) {
	return w.store.ListTransactionsByPayment(ctx, signature)
}
