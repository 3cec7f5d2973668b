package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
	"github.com/sudo-init-do/agenthub/internal/store"
)

// Reputation is the registry side of a rating.
type Reputation interface {
	UpdateReputation(ctx context.Context, id string, score int) error
	Get(id string) (marketplace.Service, error)
}

type Ratings struct {
	store      store.Store
	reputation Reputation
	log        *zap.Logger
	now        func() time.Time
}

func NewRatings(st store.Store, rep Reputation, logger *zap.Logger) *Ratings {
	if logger == nil {
		logger = zap.L()
	}
	return &Ratings{store: st, reputation: rep, log: logger.Named("ratings"), now: func() time.Time { return time.Now().UTC() }}
}

// Rate stores one score for a completed transaction and folds it into the service reputation.
// Only the buyer may rate, and only once.
func (r *Ratings) Rate(ctx context.Context, rater, transactionID string, score int, review string) (marketplace.RatingSummary, error) {
	if score < 1 || score > 5 {
		return marketplace.RatingSummary{}, apperr.Validation("score must be between 1 and 5")
	}
	review = strings.TrimSpace(review)
	if len(review) > marketplace.MaxReviewLength {
		return marketplace.RatingSummary{}, apperr.Validation("review must be at most %d characters", marketplace.MaxReviewLength)
	}

	tx, err := r.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return marketplace.RatingSummary{}, err
	}
	if tx.Buyer != rater {
		return marketplace.RatingSummary{}, apperr.Unauthorized("only the buyer can rate this transaction")
	}
	if tx.Status != marketplace.TxCompleted {
		return marketplace.RatingSummary{}, apperr.Validation("only completed transactions can be rated").
			With("status", string(tx.Status))
	}

	// Check if rating already exists for this transaction
	if _, err := r.store.GetRatingByTransaction(ctx, transactionID); err == nil {
		return marketplace.RatingSummary{}, apperr.Conflict("transaction already rated")
	} else if !apperr.IsKind(err, apperr.KindNotFound) {
		return marketplace.RatingSummary{}, eris.Wrap(err, "check existing rating")
	}

	rating := marketplace.Rating{
		ID:            uuid.New().String(),
		TransactionID: transactionID,
		ServiceID:     tx.ServiceID,
		Rater:         rater,
		Score:         score,
		Review:        review,
		CreatedAt:     r.now(),
	}
	if err := r.store.InsertRating(ctx, rating); err != nil {
		return marketplace.RatingSummary{}, err
	}
	if err := r.reputation.UpdateReputation(ctx, tx.ServiceID, score); err != nil {
		// the rating row and the running mean move together
		if derr := r.store.DeleteRating(context.WithoutCancel(ctx), rating.ID); derr != nil {
			r.log.Error("rating left without reputation update",
				zap.String("rating_id", rating.ID),
				zap.String("service_id", tx.ServiceID),
				zap.Error(derr))
		}
		return marketplace.RatingSummary{}, eris.Wrapf(err, "apply rating %s to service %s", rating.ID, tx.ServiceID)
	}

	summary := marketplace.RatingSummary{Rating: rating, ServiceID: tx.ServiceID}
	if svc, err := r.reputation.Get(tx.ServiceID); err == nil {
		summary.NewRating = svc.Reputation.Rating
		summary.Reviews = svc.Reputation.Reviews
	}
	r.log.Info("transaction rated",
		zap.String("transaction_id", transactionID),
		zap.String("service_id", tx.ServiceID),
		zap.Int("score", score))
	return summary, nil
}

// ForService lists the newest ratings of a listed service.
func (r *Ratings) ForService(ctx context.Context, serviceID string, limit int) ([]marketplace.Rating, error) {
	if _, err := r.reputation.Get(serviceID); err != nil {
		return nil, err
	}
	out, err := r.store.ListRatingsByService(ctx, serviceID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "list ratings for %s", serviceID)
	}
	if out == nil {
		out = []marketplace.Rating{}
	}
	return out, nil
}
