// Package reconcile implements the two-phase reconciliation engine.
//
// Phase 1 (Ingest) records inbound provider events verbatim and returns
// immediately. Phase 2 (Reconcile) runs per customer under an exclusive
// lock: it re-pulls canonical subscription state from the provider, applies
// it to the aggregate, derives side effects from the distinct kinds of the
// pending batch, and marks the batch processed — all in one transaction.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/paydrift/paydrift/internal/billing"
	"github.com/paydrift/paydrift/internal/event"
	"github.com/paydrift/paydrift/internal/tenant"
)

// Errors
var (
	// ErrLockTimeout means the per-customer lock could not be acquired
	// within the configured bound. The pass is abandoned and retried by
	// the sweeper.
	ErrLockTimeout = errors.New("reconcile: customer lock wait timed out")
)

// Tx is one reconciliation transaction. All reads and writes of a pass go
// through it so that marking events processed, saving the aggregate, and
// the tenant state change commit atomically. SubscriptionForCustomer must
// be the first call: it acquires the per-customer lock.
type Tx interface {
	// SubscriptionForCustomer loads the aggregate under the exclusive
	// per-customer lock. Returns billing.ErrNotFound when no aggregate
	// references the customer, ErrLockTimeout when the lock wait bound
	// is exceeded.
	SubscriptionForCustomer(ctx context.Context, providerCustomerID string) (*billing.Subscription, error)

	// Tenant loads the owning tenant.
	Tenant(ctx context.Context, tenantID string) (*tenant.Tenant, error)

	// PendingEvents returns the customer's unprocessed events in arrival
	// order.
	PendingEvents(ctx context.Context, providerCustomerID string) ([]*event.InboundEvent, error)

	// SaveSubscription stages the mutated aggregate.
	SaveSubscription(ctx context.Context, s *billing.Subscription) error

	// SaveTenantState stages a tenant state change.
	SaveTenantState(ctx context.Context, tenantID string, state tenant.State) error

	// MarkProcessed stages the processed markers for the batch.
	MarkProcessed(ctx context.Context, providerEventIDs []string, at time.Time, subscriptionID, tenantID string) error

	Commit() error
	Rollback() error
}

// Store opens reconciliation transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}
