package alerts

import (
	"context"
	"time"
)

// Alert kinds
const (
	KindUndelivered     = "purchase:undelivered"
	KindDisputeResolved = "dispute:resolved"
)

// Severity levels
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is an operator notification
type Alert struct {
	Kind      string            `json:"kind"`
	Severity  string            `json:"severity"` // info|warning|critical
	Subject   string            `json:"subject"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notifier delivers alerts. Callers treat delivery as best effort.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}
