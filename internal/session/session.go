// Package session holds prepared purchases between the prepare and complete calls.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/payment"
)

// Session is a prepared purchase awaiting payment. Once taken for completion it no longer
// exists here; attempt outcomes live in the ledger.
type Session struct {
	ID           string               `json:"id"`
	Buyer        string               `json:"buyer"`
	Request      json.RawMessage      `json:"request"`
	Intent       string               `json:"intent,omitempty"`
	PrimaryID    string               `json:"primaryId"`
	BackupIDs    []string             `json:"backupIds"`
	Instructions payment.Instructions `json:"instructions"`
	CreatedAt    time.Time            `json:"createdAt"`
	ExpiresAt    time.Time            `json:"expiresAt"`
}

// Store is the session lifecycle: create, read, consume and expire.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// Take atomically reads and removes a session so only one completion can consume it.
	Take(ctx context.Context, id string) (*Session, error)
	Expire(ctx context.Context, id string) error
}

func errNotFound(id string) error {
	return apperr.NotFound("session not found or expired").With("session_id", id)
}
