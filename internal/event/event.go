// Package event is the append-only, idempotent record of inbound
// payment-provider notifications.
//
// Every webhook delivery is stored exactly once, keyed by the provider's
// globally unique event ID. Rows are never deleted; the pending/processed
// flag is the audit trail of what has and hasn't been reconciled.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound = errors.New("event: not found")
)

// Kind is the closed set of provider event kinds the engine understands.
// Provider type strings are mapped to a Kind once, at the ingestion
// boundary; everything downstream switches on Kind, never on raw strings.
type Kind string

const (
	KindPaymentSucceeded    Kind = "payment_succeeded"
	KindPaymentFailed       Kind = "payment_failed"
	KindDisputeCreated      Kind = "dispute_created"
	KindDisputeClosed       Kind = "dispute_closed"
	KindRefund              Kind = "refund"
	KindCheckoutCompleted   Kind = "checkout_completed"
	KindCustomerDeleted     Kind = "customer_deleted"
	KindSubscriptionDeleted Kind = "subscription_deleted"
	KindSubscriptionUpdated Kind = "subscription_updated"

	// KindUnknown covers event types the engine has no handling for.
	// They are still recorded for audit and marked processed with the
	// batch, but trigger no side effects.
	KindUnknown Kind = "unknown"
)

// KindFromType maps a provider event type string to a Kind.
func KindFromType(eventType string) Kind {
	switch eventType {
	case "invoice.payment_succeeded", "invoice.paid":
		return KindPaymentSucceeded
	case "invoice.payment_failed":
		return KindPaymentFailed
	case "charge.dispute.created":
		return KindDisputeCreated
	case "charge.dispute.closed":
		return KindDisputeClosed
	case "charge.refunded":
		return KindRefund
	case "checkout.session.completed":
		return KindCheckoutCompleted
	case "customer.deleted":
		return KindCustomerDeleted
	case "customer.subscription.deleted":
		return KindSubscriptionDeleted
	case "customer.subscription.created", "customer.subscription.updated":
		return KindSubscriptionUpdated
	default:
		return KindUnknown
	}
}

// InboundEvent is one notification from the payment provider.
type InboundEvent struct {
	ProviderEventID string          `json:"providerEventId"`
	EventType       string          `json:"eventType"`
	Kind            Kind            `json:"kind"`
	CustomerID      string          `json:"customerId"`
	SubscriptionID  string          `json:"subscriptionId,omitempty"` // provider subscription ID, if carried
	TenantID        string          `json:"tenantId,omitempty"`       // resolved during reconciliation
	RawPayload      json.RawMessage `json:"-"`
	ReceivedAt      time.Time       `json:"receivedAt"`
	ProcessedAt     *time.Time      `json:"processedAt,omitempty"` // nil = pending
}

// Pending reports whether the event has not yet been folded into a
// reconciliation pass.
func (e *InboundEvent) Pending() bool {
	return e.ProcessedAt == nil
}

// KindSet computes the distinct set of kinds in a batch. Two deliveries of
// the same kind in one batch produce one side effect, not two.
func KindSet(events []*InboundEvent) map[Kind]bool {
	set := make(map[Kind]bool, len(events))
	for _, e := range events {
		set[e.Kind] = true
	}
	return set
}

// Store persists inbound events.
//
// Record is phase 1 of the pipeline: insert-if-absent on the provider event
// ID. It must be safe under concurrent calls with the same ID; a duplicate
// is not an error, it IS the dedup mechanism.
//
// PendingByCustomer and MarkProcessed are also exercised inside the
// reconciliation transaction through reconcile.Tx, which reads and writes
// the same rows transactionally.
type Store interface {
	Record(ctx context.Context, e *InboundEvent) (isNew bool, err error)
	Get(ctx context.Context, providerEventID string) (*InboundEvent, error)
	PendingByCustomer(ctx context.Context, customerID string) ([]*InboundEvent, error)
	// PendingCustomers returns the distinct customer IDs with at least one
	// pending event, for the backlog sweeper.
	PendingCustomers(ctx context.Context) ([]string, error)
}
