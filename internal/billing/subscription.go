// Package billing holds the Subscription aggregate: one tenant's billing
// relationship with the payment provider.
//
// The aggregate is the unit of locking and consistency. It is mutated only
// by the reconciliation engine (from a provider sync) or by explicit
// user-initiated commands that funnel through the same lock path — never
// directly from a raw webhook payload.
package billing

import (
	"errors"
	"time"

	"github.com/paydrift/paydrift/internal/plan"
)

// Errors
var (
	ErrNotFound = errors.New("billing: subscription not found")
	ErrExists   = errors.New("billing: subscription already exists for tenant")
)

// TransactionStatus is the settlement state of one historical charge.
type TransactionStatus string

const (
	TxnSucceeded TransactionStatus = "succeeded"
	TxnFailed    TransactionStatus = "failed"
	TxnPending   TransactionStatus = "pending"
	TxnRefunded  TransactionStatus = "refunded"
)

// PaymentTransaction is one historical charge, embedded in the aggregate.
type PaymentTransaction struct {
	ID            string            `json:"id"` // provider-assigned invoice/charge ID
	AmountCents   int64             `json:"amountCents"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	Date          time.Time         `json:"date"`
	FailureReason string            `json:"failureReason,omitempty"`
	InvoiceURL    string            `json:"invoiceUrl,omitempty"`
}

// PaymentMethod is the card on file.
type PaymentMethod struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
}

// BillingInfo is the invoicing address held by the provider.
type BillingInfo struct {
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
	VATID      string `json:"vatId,omitempty"`
}

// Subscription is the billing aggregate. Exactly one exists per tenant.
type Subscription struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenantId"`
	Plan     plan.Plan `json:"plan"`

	// ScheduledPlan is a pending downgrade taking effect at period end.
	ScheduledPlan *plan.Plan `json:"scheduledPlan,omitempty"`

	// Provider linkage. Empty until billing info is first saved /
	// first checkout completes.
	ProviderCustomerID     string `json:"providerCustomerId,omitempty"`
	ProviderSubscriptionID string `json:"providerSubscriptionId,omitempty"`

	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`

	// FirstPaymentFailedAt being non-nil signals "in payment-failure
	// state". Set on the first failure, cleared on recovery. Suspension is
	// a separate, later consequence tracked on the tenant.
	FirstPaymentFailedAt *time.Time `json:"firstPaymentFailedAt,omitempty"`

	// LastNotificationSentAt throttles repeat dunning emails.
	LastNotificationSentAt *time.Time `json:"lastNotificationSentAt,omitempty"`

	DisputedAt *time.Time `json:"disputedAt,omitempty"`
	RefundedAt *time.Time `json:"refundedAt,omitempty"`

	// User-entered cancellation survey. Presence of a reason marks the
	// subscription loss as voluntary.
	CancellationReason   string `json:"cancellationReason,omitempty"`
	CancellationFeedback string `json:"cancellationFeedback,omitempty"`

	PaymentMethod *PaymentMethod       `json:"paymentMethod,omitempty"`
	BillingInfo   *BillingInfo         `json:"billingInfo,omitempty"`
	Transactions  []PaymentTransaction `json:"transactions,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewForTenant creates the free-tier subscription a tenant starts on,
// with no provider linkage yet.
func NewForTenant(id, tenantID string, now time.Time) *Subscription {
	return &Subscription{
		ID:        id,
		TenantID:  tenantID,
		Plan:      plan.Basis,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// InFailureState reports whether a payment failure has been recorded and
// not yet recovered.
func (s *Subscription) InFailureState() bool {
	return s.FirstPaymentFailedAt != nil
}

// VoluntaryCancellation reports whether a subscription loss should be
// treated as a benign user-chosen downgrade to the free plan: the user
// recorded a cancellation reason and there is no outstanding payment
// failure.
func (s *Subscription) VoluntaryCancellation() bool {
	return s.CancellationReason != "" && !s.InFailureState()
}

// Snapshot is the canonical subscription state pulled from the provider on
// every reconciliation pass. The engine applies it wholesale instead of
// deriving state from webhook payloads, which can arrive out of order.
type Snapshot struct {
	ProviderSubscriptionID string
	Plan                   plan.Plan
	ScheduledPlan          *plan.Plan
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	PaymentMethod          *PaymentMethod
	Transactions           []PaymentTransaction
}

// ApplySnapshot overwrites the provider-owned fields of the aggregate with
// the canonical state. Engine-owned markers (failure, dispute, refund,
// cancellation survey, notification throttle) are untouched.
func (s *Subscription) ApplySnapshot(snap *Snapshot, now time.Time) {
	s.ProviderSubscriptionID = snap.ProviderSubscriptionID
	s.Plan = snap.Plan
	s.ScheduledPlan = snap.ScheduledPlan
	s.CurrentPeriodEnd = snap.CurrentPeriodEnd
	s.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	s.PaymentMethod = snap.PaymentMethod
	s.Transactions = snap.Transactions
	s.UpdatedAt = now
}

// ResetToFree clears the paid-plan state when the provider reports no
// active subscription for the customer, instead of leaving stale data.
// Provider customer linkage and the engine-owned markers survive.
func (s *Subscription) ResetToFree(now time.Time) {
	s.Plan = plan.Basis
	s.ScheduledPlan = nil
	s.ProviderSubscriptionID = ""
	s.CurrentPeriodEnd = nil
	s.CancelAtPeriodEnd = false
	s.PaymentMethod = nil
	s.UpdatedAt = now
}
