// Package store persists service listings, transaction attempts, ratings and disputes.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sudo-init-do/agenthub/internal/marketplace"
)

// ErrTerminal is returned when finishing a transaction that is no longer pending.
var ErrTerminal = eris.New("transaction already in a terminal state")

// Outcome is the terminal result written onto a pending transaction.
type Outcome struct {
	Status   marketplace.TransactionStatus
	Response json.RawMessage
	Error    string
	At       time.Time
}

type Store interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()

	InsertService(ctx context.Context, s marketplace.Service) error
	UpdateService(ctx context.Context, s marketplace.Service) error
	UpdateReputation(ctx context.Context, id string, rep marketplace.Reputation, at time.Time) error
	SoftDeleteService(ctx context.Context, id string, at time.Time) error
	// ListServices returns non-deleted services ordered by creation time.
	ListServices(ctx context.Context) ([]marketplace.Service, error)

	InsertTransaction(ctx context.Context, tx marketplace.Transaction) error
	FinishTransaction(ctx context.Context, id string, out Outcome) error
	InsertTerminalTransaction(ctx context.Context, tx marketplace.Transaction) error
	GetTransaction(ctx context.Context, id string) (marketplace.Transaction, error)
	ListTransactionsByPayment(ctx context.Context, signature string) ([]marketplace.Transaction, error)
	ListTransactionsByBuyer(ctx context.Context, buyer string, limit int) ([]marketplace.Transaction, error)

	InsertRating(ctx context.Context, r marketplace.Rating) error
	// DeleteRating removes a rating whose reputation update could not be applied.
	DeleteRating(ctx context.Context, id string) error
	GetRatingByTransaction(ctx context.Context, transactionID string) (marketplace.Rating, error)
	ListRatingsByService(ctx context.Context, serviceID string, limit int) ([]marketplace.Rating, error)

	InsertDispute(ctx context.Context, d marketplace.Dispute) error
	ListDisputes(ctx context.Context, status string) ([]marketplace.Dispute, error)
	ResolveDispute(ctx context.Context, id, resolution, notes string, at time.Time) (marketplace.Dispute, error)

	Stats(ctx context.Context) (marketplace.Stats, error)
}
