package provider

import (
	"context"
	"sync"

	"github.com/paydrift/paydrift/internal/billing"
	"github.com/paydrift/paydrift/internal/plan"
)

// Static is an in-memory Client for tests. Fields are read under a mutex so
// tests can mutate them between reconciliation passes.
type Static struct {
	mu sync.Mutex

	// Snapshot returned by SyncSubscriptionState. Nil means the customer
	// has no active subscription (ErrNoSubscription).
	Snapshot *billing.Snapshot
	Info     *billing.BillingInfo
	Checkout *CheckoutPreview
	Upgrade  *UpgradePreview
	Catalog  []PlanPrice

	// Err, when set, is returned by every call — simulates a provider
	// outage.
	Err error

	SyncCalls int
}

func (s *Static) SyncSubscriptionState(ctx context.Context, customerID string) (*billing.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SyncCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Snapshot == nil {
		return nil, ErrNoSubscription
	}
	snap := *s.Snapshot
	snap.Transactions = append([]billing.PaymentTransaction(nil), s.Snapshot.Transactions...)
	return &snap, nil
}

func (s *Static) GetBillingInfo(ctx context.Context, customerID string) (*billing.BillingInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Info == nil {
		return nil, nil
	}
	info := *s.Info
	return &info, nil
}

func (s *Static) GetCheckoutPreview(ctx context.Context, customerID string, target plan.Plan) (*CheckoutPreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Checkout, nil
}

func (s *Static) GetUpgradePreview(ctx context.Context, providerSubscriptionID string, target plan.Plan) (*UpgradePreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Upgrade, nil
}

func (s *Static) GetPriceCatalog(ctx context.Context) ([]PlanPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]PlanPrice(nil), s.Catalog...), nil
}

// SetSnapshot swaps the canonical state returned on the next sync.
func (s *Static) SetSnapshot(snap *billing.Snapshot) {
	s.mu.Lock()
	s.Snapshot = snap
	s.mu.Unlock()
}

// SetErr makes every call fail with err until cleared.
func (s *Static) SetErr(err error) {
	s.mu.Lock()
	s.Err = err
	s.mu.Unlock()
}

var _ Client = (*Static)(nil)
