package billing

import "context"

// Store persists subscription aggregates.
//
// Reads here are unlocked; the reconciliation engine acquires its row lock
// through reconcile.Tx instead, which loads the same aggregate under
// SELECT ... FOR UPDATE.
type Store interface {
	Create(ctx context.Context, s *Subscription) error
	GetByTenant(ctx context.Context, tenantID string) (*Subscription, error)
	GetByCustomer(ctx context.Context, providerCustomerID string) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
}
