// Package provider abstracts the external payment system the engine
// re-synchronizes against.
//
// The facade is the single source of truth pulled on every reconciliation
// pass. The engine never derives final state from webhook payloads, because
// webhooks can arrive out of order; it always re-pulls canonical state and
// uses the batch of event kinds only to decide which side effects to run.
package provider

import (
	"context"
	"errors"

	"github.com/paydrift/paydrift/internal/billing"
	"github.com/paydrift/paydrift/internal/plan"
)

// Errors
var (
	// ErrNoSubscription means the customer exists but has no active
	// subscription; the caller maps this to the free plan.
	ErrNoSubscription = errors.New("provider: no active subscription")
)

// CheckoutPreview is the amount a customer would pay starting a new
// subscription on the target plan.
type CheckoutPreview struct {
	TotalCents int64  `json:"totalCents"`
	Currency   string `json:"currency"`
	TaxCents   int64  `json:"taxCents"`
}

// LineItem is one row of an upgrade preview invoice.
type LineItem struct {
	Description string `json:"description"`
	AmountCents int64  `json:"amountCents"`
}

// UpgradePreview is the prorated amount due when moving an existing
// subscription to the target plan.
type UpgradePreview struct {
	TotalCents int64      `json:"totalCents"`
	Currency   string     `json:"currency"`
	LineItems  []LineItem `json:"lineItems"`
}

// PlanPrice is one entry of the provider's price catalogue.
type PlanPrice struct {
	Plan            plan.Plan `json:"plan"`
	PriceID         string    `json:"priceId"`
	UnitAmountCents int64     `json:"unitAmountCents"`
	Currency        string    `json:"currency"`
	Interval        string    `json:"interval"`
}

// Client is the collaborator contract the reconciliation engine consumes.
// Implementations must treat the provider as unreliable; callers retry
// transient failures or surface them as a retryable reconciliation failure.
type Client interface {
	// SyncSubscriptionState pulls the full current truth for a customer.
	// Returns ErrNoSubscription when the customer has no active
	// subscription (maps to the free plan).
	SyncSubscriptionState(ctx context.Context, customerID string) (*billing.Snapshot, error)

	// GetBillingInfo returns the invoicing details held by the provider,
	// or (nil, nil) when none exist.
	GetBillingInfo(ctx context.Context, customerID string) (*billing.BillingInfo, error)

	// GetCheckoutPreview prices a fresh subscription on the target plan.
	GetCheckoutPreview(ctx context.Context, customerID string, target plan.Plan) (*CheckoutPreview, error)

	// GetUpgradePreview prices moving an existing subscription to the
	// target plan, including prorations.
	GetUpgradePreview(ctx context.Context, providerSubscriptionID string, target plan.Plan) (*UpgradePreview, error)

	// GetPriceCatalog lists the purchasable plan prices.
	GetPriceCatalog(ctx context.Context) ([]PlanPrice, error)
}
