package marketplace

import (
	"encoding/json"
	"time"
)

// Pricing is the per-request price a service advertises
type Pricing struct {
	Amount   string `json:"amount"`   // decimal string, e.g. "$0.02" or "0.02"
	Currency string `json:"currency"` // asset code, e.g. "USDC"
	Network  string `json:"network"`  // payment network, e.g. "solana-devnet"
}

// Reputation aggregates buyer ratings and delivery history
type Reputation struct {
	Rating          float64 `json:"rating"`
	Reviews         int     `json:"reviews"`
	TotalJobs       int     `json:"totalJobs"`
	FailedJobs      int     `json:"failedJobs"`
	SuccessRate     float64 `json:"successRate"`       // percent, 0-100
	AvgResponseTime float64 `json:"avgResponseTimeMs"` // milliseconds
}

// Service represents a capability provider listed on the marketplace
type Service struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Provider     string         `json:"provider"` // wallet address that receives payment
	Endpoint     string         `json:"endpoint"`
	Capabilities []string       `json:"capabilities"`
	Pricing      Pricing        `json:"pricing"`
	Reputation   Reputation     `json:"reputation"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// HasCapability reports whether the service advertises capability c.
func (s Service) HasCapability(c string) bool {
	c = NormalizeCapability(c)
	for _, have := range s.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// SharesCapability reports whether s and other have at least one capability in common.
func (s Service) SharesCapability(other Service) bool {
	for _, c := range other.Capabilities {
		if s.HasCapability(c) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can never mutate a cached listing.
func (s Service) Clone() Service {
	cp := s
	cp.Capabilities = append([]string(nil), s.Capabilities...)
	if s.Metadata != nil {
		cp.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// ServiceDraft is the registration payload for a new listing
type ServiceDraft struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Provider     string         `json:"provider"`
	Endpoint     string         `json:"endpoint"`
	Capabilities []string       `json:"capabilities"`
	Pricing      Pricing        `json:"pricing"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Reputation   *Reputation    `json:"reputation,omitempty"`
}

// ServicePatch holds explicit edits; nil fields are left unchanged
type ServicePatch struct {
	Name         *string        `json:"name,omitempty"`
	Description  *string        `json:"description,omitempty"`
	Endpoint     *string        `json:"endpoint,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Pricing      *Pricing       `json:"pricing,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// TransactionStatus is write-once-terminal: pending -> completed | failed
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s TransactionStatus) Terminal() bool {
	return s == TxCompleted || s == TxFailed
}

// Transaction is one provider attempt paid by a payment signature
type Transaction struct {
	ID          string            `json:"id"`
	ServiceID   string            `json:"service_id"`
	SessionID   string            `json:"session_id"`
	Attempt     int               `json:"attempt"` // 0 = primary, 1.. = backups
	Buyer       string            `json:"buyer"`
	Seller      string            `json:"seller"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Status      TransactionStatus `json:"status"`
	Request     json.RawMessage   `json:"request,omitempty"`
	Response    json.RawMessage   `json:"response,omitempty"`
	PaymentHash string            `json:"payment_hash"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Dispute statuses and resolutions for undelivered payments
const (
	DisputeOpen     = "open"
	DisputeResolved = "resolved"

	ResolutionRefund  = "refund"
	ResolutionRelease = "release"
	ResolutionNone    = "none"
)

// Dispute records a confirmed payment that no provider delivered on
type Dispute struct {
	ID          string     `json:"id"`
	PaymentHash string     `json:"payment_hash"`
	SessionID   string     `json:"session_id"`
	Buyer       string     `json:"buyer"`
	ServiceID   string     `json:"service_id"`
	Amount      string     `json:"amount"`
	Currency    string     `json:"currency"`
	Reason      string     `json:"reason"`
	Status      string     `json:"status"`
	Resolution  string     `json:"resolution,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}
