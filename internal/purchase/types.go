package purchase

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
	"github.com/sudo-init-do/agenthub/internal/matcher"
	"github.com/sudo-init-do/agenthub/internal/payment"
)

// Payment status messages shown to buyers. The two must never be conflated.
const (
	PaymentNotConsumed = "payment not confirmed; no provider was called and nothing was charged by this purchase"
	PaymentUndelivered = "payment confirmed but undelivered"
)

// RefundOptions is the manual-resolution guidance returned with undelivered purchases.
var RefundOptions = []string{
	"A dispute has been opened for this payment; an operator will review it and refund the payment to the paying wallet.",
	"Reference the payment signature and dispute id when contacting support.",
	"Do not pay again for this request; prepare a new session only if you want to try a different service.",
}

type Requirements struct {
	MaxPrice  string  `json:"maxPrice,omitempty"`
	MinRating float64 `json:"minRating,omitempty"`
}

type PrepareRequest struct {
	ServiceID    string          `json:"serviceId,omitempty"`
	Capability   string          `json:"capability,omitempty"`
	Intent       string          `json:"intent,omitempty"` // free text, resolved through the matcher
	Request      json.RawMessage `json:"request"`
	Requirements Requirements    `json:"requirements"`
}

type ServiceSummary struct {
	ID      string              `json:"id"`
	Name    string              `json:"name"`
	Pricing marketplace.Pricing `json:"pricing"`
	Rating  float64             `json:"rating"`
}

func summarize(s marketplace.Service) ServiceSummary {
	return ServiceSummary{ID: s.ID, Name: s.Name, Pricing: s.Pricing, Rating: s.Reputation.Rating}
}

type Prepared struct {
	SessionID    string               `json:"sessionId"`
	Service      ServiceSummary       `json:"service"`
	Backups      []ServiceSummary     `json:"backups"`
	Instructions payment.Instructions `json:"paymentInstructions"`
	ExpiresAt    time.Time            `json:"expiresAt"`
}

type CompleteRequest struct {
	SessionID      string `json:"sessionId"`
	Signature      string `json:"signature"`
	Buyer          string `json:"-"`
	RetryOnFailure *bool  `json:"retryOnFailure,omitempty"`
}

// AttemptError is one failed provider attempt in the error history.
type AttemptError struct {
	ServiceID   string `json:"serviceId"`
	ServiceName string `json:"serviceName,omitempty"`
	Attempt     int    `json:"attempt"`
	StatusCode  int    `json:"statusCode,omitempty"`
	Message     string `json:"message"`
}

type Metadata struct {
	RetriesUsed       int            `json:"retriesUsed"`
	AttemptedServices []string       `json:"attemptedServices"`
	Errors            []AttemptError `json:"errors,omitempty"`
}

type Result struct {
	Success          bool            `json:"success"`
	Data             json.RawMessage `json:"data"`
	ServiceID        string          `json:"serviceId"`
	ServiceName      string          `json:"serviceName"`
	TransactionID    string          `json:"transactionId"`
	PaymentSignature string          `json:"paymentSignature"`
	Metadata         Metadata        `json:"metadata"`
}

// UndeliveredError is the terminal failure after a verified payment: every attempt failed.
type UndeliveredError struct {
	SessionID        string         `json:"sessionId"`
	PaymentSignature string         `json:"paymentSignature"`
	PaymentStatus    string         `json:"paymentStatus"`
	PrimaryError     AttemptError   `json:"primaryError"`
	BackupErrors     []AttemptError `json:"backupErrors"`
	RemainingBackups int            `json:"remainingBackups"` // untried because the purchase was cancelled
	DisputeID        string         `json:"disputeId,omitempty"`
	RefundOptions    []string       `json:"refundOptions"`
}

func (e *UndeliveredError) Error() string {
	msgs := []string{fmt.Sprintf("%s: %s", e.PrimaryError.ServiceID, e.PrimaryError.Message)}
	for _, b := range e.BackupErrors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", b.ServiceID, b.Message))
	}
	return fmt.Sprintf("%s (%d attempts failed: %s)", PaymentUndelivered, len(msgs), strings.Join(msgs, "; "))
}

// Unwrap classifies the failure as a provider error.
func (e *UndeliveredError) Unwrap() error {
	return apperr.New(apperr.KindProvider, "%s", PaymentUndelivered)
}

type DiscoverQuery struct {
	Capability string
	MaxPrice   string
	MinRating  float64
	SortBy     string
	Limit      int
}

type MatchResult struct {
	Matches  []matcher.Match  `json:"matches"`
	Workflow matcher.Workflow `json:"workflow"`
}

type AuditReport struct {
	Signature    string                    `json:"signature"`
	Delivered    bool                      `json:"delivered"`
	Transactions []marketplace.Transaction `json:"transactions"`
}
